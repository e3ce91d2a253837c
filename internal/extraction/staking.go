package extraction

import (
	"github.com/elys-network/rebalancer/internal/fixedpoint"
	"github.com/elys-network/rebalancer/internal/types"
)

// ImmediateUnstakePenaltyBps is charged for unstaking without waiting out the delay.
const ImmediateUnstakePenaltyBps = uint64(200) // 2%

// extractFromStaking unstakes the whole balance immediately, paying the penalty and the
// validator commission on the net amount.
func (e *Engine) extractFromStaking(strategy *types.Strategy, position *types.CapitalPosition, staking *types.LiquidStaking) (types.ExtractionResult, error) {
	staked := strategy.CurrentBalance

	epoch := e.clock.Epoch()
	unstakeEpoch, err := fixedpoint.CheckedAdd(epoch, uint64(staking.UnstakeDelayEpochs))
	if err != nil {
		unstakeEpoch = epoch
	}

	// --- 1. Penalty and commission ---
	penalty, err := fixedpoint.ApplyBps(staked, ImmediateUnstakePenaltyBps)
	if err != nil {
		return types.ExtractionResult{}, overflow(err)
	}
	net, err := fixedpoint.CheckedSub(staked, penalty)
	if err != nil {
		return types.ExtractionResult{}, insufficient(err)
	}
	commission, err := fixedpoint.ApplyBps(net, uint64(staking.CommissionBps))
	if err != nil {
		return types.ExtractionResult{}, overflow(err)
	}
	final, err := fixedpoint.CheckedSub(net, commission)
	if err != nil {
		return types.ExtractionResult{}, insufficient(err)
	}
	fees, err := fixedpoint.CheckedAdd(penalty, commission)
	if err != nil {
		return types.ExtractionResult{}, overflow(err)
	}

	// --- 2. New state ---
	newBalance, err := fixedpoint.CheckedSub(strategy.CurrentBalance, staked)
	if err != nil {
		return types.ExtractionResult{}, insufficient(err)
	}
	newWithdrawals, err := fixedpoint.CheckedAdd(strategy.TotalWithdrawals, final)
	if err != nil {
		return types.ExtractionResult{}, overflow(err)
	}
	newAccrued, err := fixedpoint.CheckedAdd(position.AccruedFees, commission)
	if err != nil {
		return types.ExtractionResult{}, overflow(err)
	}
	now := e.clock.Now()

	strategy.CurrentBalance = newBalance
	strategy.TotalWithdrawals = newWithdrawals
	position.TokenAAmount = final
	position.AccruedFees = newAccrued
	position.LastRebalance = now

	extractionLogger.Info().
		Str("strategyID", strategy.StrategyID.String()).
		Uint64("staked", staked).
		Uint64("penalty", penalty).
		Uint64("commission", commission).
		Uint64("received", final).
		Uint64("epoch", epoch).
		Uint64("unstakeEpoch", unstakeEpoch).
		Msg("Unstaked capital with immediate withdrawal penalty")

	return types.ExtractionResult{
		ExtractedAmount: final,
		ExtractionType:  types.ExtractionStakingUnstake,
		FeesPaid:        fees,
	}, nil
}
