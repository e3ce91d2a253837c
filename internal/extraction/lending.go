package extraction

import (
	"github.com/elys-network/rebalancer/internal/fixedpoint"
	"github.com/elys-network/rebalancer/internal/types"
)

// LendingRentReserve is left behind in every lending strategy.
const LendingRentReserve = uint64(10_000_000)

// extractFromLending withdraws everything above the rent reserve. Lending withdrawals carry no fee.
func (e *Engine) extractFromLending(strategy *types.Strategy, position *types.CapitalPosition) (types.ExtractionResult, error) {
	if strategy.CurrentBalance <= LendingRentReserve {
		return types.ExtractionResult{ExtractionType: types.ExtractionNone}, nil
	}
	amount := strategy.CurrentBalance - LendingRentReserve

	newBalance, err := fixedpoint.CheckedSub(strategy.CurrentBalance, amount)
	if err != nil {
		return types.ExtractionResult{}, insufficient(err)
	}
	newWithdrawals, err := fixedpoint.CheckedAdd(strategy.TotalWithdrawals, amount)
	if err != nil {
		return types.ExtractionResult{}, overflow(err)
	}
	newTokenA := fixedpoint.SaturatingSub(position.TokenAAmount, amount)
	now := e.clock.Now()

	strategy.CurrentBalance = newBalance
	strategy.TotalWithdrawals = newWithdrawals
	position.TokenAAmount = newTokenA
	position.LastRebalance = now

	extractionLogger.Info().
		Str("strategyID", strategy.StrategyID.String()).
		Uint64("amount", amount).
		Msg("Extracted capital from lending protocol")

	return types.ExtractionResult{
		ExtractedAmount: amount,
		ExtractionType:  types.ExtractionLendingWithdrawal,
	}, nil
}
