package extraction

import (
	"math"

	"github.com/holiman/uint256"

	"github.com/elys-network/rebalancer/internal/fixedpoint"
	"github.com/elys-network/rebalancer/internal/types"
)

// Liquidity withdrawal costs
const (
	FarmingSlippageBps    = uint64(50) // 0.5%
	FarmingProtocolFeeBps = uint64(30) // 0.3%
	PriceScale            = uint64(1_000_000)
)

// extractFromYieldFarming burns the platform-controlled share of the LP position.
//
// The share is platformLP/lp in basis points applied to both token amounts; each leg loses
// slippage and the protocol fee is reported on the gross withdrawal. The platform-controlled LP
// balance is reset to zero after the withdrawal and the position's impermanent loss is recomputed
// from the post-slippage token ratio against the entry price ratio.
func (e *Engine) extractFromYieldFarming(strategy *types.Strategy, position *types.CapitalPosition) (types.ExtractionResult, error) {
	if position.LPTokens == 0 || position.PlatformControlledLP == 0 {
		return types.ExtractionResult{}, types.ErrInsufficientBalance
	}

	// --- 1. Proportional withdrawal ---
	withdrawalBps, err := fixedpoint.MulDiv(position.PlatformControlledLP, fixedpoint.BpsDenominator, position.LPTokens)
	if err != nil {
		return types.ExtractionResult{}, overflow(err)
	}
	tokenAWithdrawal, err := fixedpoint.ApplyBps(position.TokenAAmount, withdrawalBps)
	if err != nil {
		return types.ExtractionResult{}, overflow(err)
	}
	tokenBWithdrawal, err := fixedpoint.ApplyBps(position.TokenBAmount, withdrawalBps)
	if err != nil {
		return types.ExtractionResult{}, overflow(err)
	}

	// --- 2. Slippage and fees ---
	tokenAAfterSlippage, err := afterSlippage(tokenAWithdrawal)
	if err != nil {
		return types.ExtractionResult{}, err
	}
	tokenBAfterSlippage, err := afterSlippage(tokenBWithdrawal)
	if err != nil {
		return types.ExtractionResult{}, err
	}
	grossWithdrawal, err := fixedpoint.CheckedAdd(tokenAWithdrawal, tokenBWithdrawal)
	if err != nil {
		return types.ExtractionResult{}, overflow(err)
	}
	fees, err := fixedpoint.ApplyBps(grossWithdrawal, FarmingProtocolFeeBps)
	if err != nil {
		return types.ExtractionResult{}, overflow(err)
	}
	extracted, err := fixedpoint.CheckedAdd(tokenAAfterSlippage, tokenBAfterSlippage)
	if err != nil {
		return types.ExtractionResult{}, overflow(err)
	}

	// --- 3. New state ---
	newBalance, err := fixedpoint.CheckedSub(strategy.CurrentBalance, extracted)
	if err != nil {
		return types.ExtractionResult{}, insufficient(err)
	}
	newWithdrawals, err := fixedpoint.CheckedAdd(strategy.TotalWithdrawals, extracted)
	if err != nil {
		return types.ExtractionResult{}, overflow(err)
	}
	newTokenA, err := fixedpoint.CheckedSub(position.TokenAAmount, tokenAWithdrawal)
	if err != nil {
		return types.ExtractionResult{}, insufficient(err)
	}
	newTokenB, err := fixedpoint.CheckedSub(position.TokenBAmount, tokenBWithdrawal)
	if err != nil {
		return types.ExtractionResult{}, insufficient(err)
	}
	newLP, err := fixedpoint.CheckedSub(position.LPTokens, position.PlatformControlledLP)
	if err != nil {
		return types.ExtractionResult{}, insufficient(err)
	}
	impermanentLoss := realizedImpermanentLoss(tokenAAfterSlippage, tokenBAfterSlippage, position.EntryPriceA, position.EntryPriceB)
	now := e.clock.Now()

	strategy.CurrentBalance = newBalance
	strategy.TotalWithdrawals = newWithdrawals
	position.TokenAAmount = newTokenA
	position.TokenBAmount = newTokenB
	position.LPTokens = newLP
	position.PlatformControlledLP = 0
	position.LastRebalance = now
	position.ImpermanentLoss = impermanentLoss

	extractionLogger.Info().
		Str("strategyID", strategy.StrategyID.String()).
		Uint64("extracted", extracted).
		Uint64("tokenA", tokenAWithdrawal).
		Uint64("tokenB", tokenBWithdrawal).
		Uint64("fees", fees).
		Int64("impermanentLossPct", impermanentLoss).
		Msg("Extracted capital from yield farming")

	return types.ExtractionResult{
		ExtractedAmount: extracted,
		ExtractionType:  types.ExtractionLiquidityWithdrawal,
		FeesPaid:        fees,
	}, nil
}

func afterSlippage(amount uint64) (uint64, error) {
	slippage, err := fixedpoint.ApplyBps(amount, FarmingSlippageBps)
	if err != nil {
		return 0, overflow(err)
	}
	return fixedpoint.SaturatingSub(amount, slippage), nil
}

// priceRatio returns num*1e6/den, or 1e6 when den is zero.
func priceRatio(num, den uint64) *uint256.Int {
	if den == 0 {
		return uint256.NewInt(PriceScale)
	}
	ratio := new(uint256.Int).Mul(uint256.NewInt(num), uint256.NewInt(PriceScale))
	return ratio.Div(ratio, uint256.NewInt(den))
}

// realizedImpermanentLoss is |current - entry| * 100 / entry in whole percent, saturating at MaxInt64.
func realizedImpermanentLoss(tokenA, tokenB, entryPriceA, entryPriceB uint64) int64 {
	current := priceRatio(tokenA, tokenB)
	entry := priceRatio(entryPriceA, entryPriceB)
	if current.Eq(entry) || entry.IsZero() {
		return 0
	}

	diff := new(uint256.Int)
	if current.Gt(entry) {
		diff.Sub(current, entry)
	} else {
		diff.Sub(entry, current)
	}
	diff.Mul(diff, uint256.NewInt(100))
	diff.Div(diff, entry)

	if !diff.IsUint64() || diff.Uint64() > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(diff.Uint64())
}
