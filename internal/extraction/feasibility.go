package extraction

import (
	"fmt"

	"github.com/elys-network/rebalancer/internal/types"
)

// Withdrawal safety limits
const (
	MinFarmingWithdrawal      = uint64(1000)
	MaxLendingUtilizationBps  = uint16(9500)
	MaxFarmingWithdrawalShare = uint64(2) // at most half the LP tokens per withdrawal
)

// ValidateWithdrawalFeasibility checks a requested withdrawal against the protocol's limits.
func ValidateWithdrawalFeasibility(position *types.CapitalPosition, amount uint64, protocol types.ProtocolType) error {
	switch protocol.Kind {
	case types.ProtocolYieldFarming:
		if amount < MinFarmingWithdrawal {
			return fmt.Errorf("%w: %d below %d", types.ErrWithdrawalTooSmall, amount, MinFarmingWithdrawal)
		}
		if amount > position.LPTokens/MaxFarmingWithdrawalShare {
			return fmt.Errorf("%w: %d above half of %d LP tokens", types.ErrExcessiveWithdrawal, amount, position.LPTokens)
		}
	case types.ProtocolLiquidStaking:
		if protocol.LiquidStaking == nil {
			return types.ErrInvalidProtocolType
		}
		if protocol.LiquidStaking.UnstakeDelayEpochs > types.MaxUnstakeDelayEpochs {
			return fmt.Errorf("%w: %d epochs", types.ErrExcessiveUnstakeDelay, protocol.LiquidStaking.UnstakeDelayEpochs)
		}
		if amount > position.PlatformControlledLP {
			return fmt.Errorf("%w: %d above platform-controlled %d", types.ErrInsufficientBalance, amount, position.PlatformControlledLP)
		}
	case types.ProtocolStableLending:
		if protocol.StableLending == nil {
			return types.ErrInvalidProtocolType
		}
		if protocol.StableLending.UtilizationBps >= MaxLendingUtilizationBps {
			return fmt.Errorf("%w: utilization %d bps", types.ErrProtocolHighUtilization, protocol.StableLending.UtilizationBps)
		}
		if amount > position.TokenAAmount {
			return fmt.Errorf("%w: %d above token balance %d", types.ErrInsufficientBalance, amount, position.TokenAAmount)
		}
	default:
		return fmt.Errorf("%w: %q", types.ErrInvalidProtocolType, protocol.Kind)
	}
	return nil
}
