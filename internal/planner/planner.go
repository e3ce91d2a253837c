package planner

import (
	"errors"
	"fmt"

	"github.com/elys-network/rebalancer/internal/fixedpoint"
	"github.com/elys-network/rebalancer/internal/logger"
	"github.com/elys-network/rebalancer/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidRiskLimits = errors.New("risk limits contain invalid values")
	ErrMathematicalError = errors.New("mathematical calculation error")
)

// Allocation tuning constants
const (
	DustThreshold        = uint64(1_000_000) // leftovers above this go to the first top performer
	TopPerformerSlots    = 3
	MinRiskMultiplierBps = uint64(5000)
	MaxRiskMultiplierBps = uint64(15000)
	MaxAllocationAmount  = types.MaxBalance
)

// CalculateOptimalAllocation distributes available capital across the ranked strategies.
//
// Inputs:
//   - availableCapital: capital extracted from underperformers, must be non-zero.
//   - strategies: candidates in priority order; the first three are top performers.
//   - limits: diversification bounds, fee carve-outs and risk tolerance.
//
// Output:
//   - Fee allocations first (platform, then manager, each only when non-zero), followed by one
//     allocation per strategy that survives the min, minimum-ticket and risk filters.
//     Fees bound for the same treasury are merged into the platform fee allocation.
//   - Every destination appears once and the sum of all amounts never exceeds availableCapital.
func CalculateOptimalAllocation(availableCapital uint64, strategies []types.StrategyPerformanceData, limits types.RiskLimits) ([]types.CapitalAllocation, error) {
	planLogger := logger.GetForComponent("allocation_planner")

	// ===== INPUT VALIDATION =====
	if availableCapital == 0 {
		return nil, fmt.Errorf("%w: no capital to allocate", types.ErrInsufficientBalance)
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("%w: no strategies to allocate to", types.ErrInsufficientStrategies)
	}

	allocations := make([]types.CapitalAllocation, 0, len(strategies)+2)
	remaining := availableCapital

	// ===== FEE CARVE-OUTS =====
	platformFee, err := fixedpoint.ApplyBps(availableCapital, limits.PlatformFeeBps)
	if err != nil {
		return nil, errors.Join(ErrMathematicalError, types.ErrBalanceOverflow, err)
	}
	managerFee, err := fixedpoint.ApplyBps(availableCapital, limits.ManagerFeeBps)
	if err != nil {
		return nil, errors.Join(ErrMathematicalError, types.ErrBalanceOverflow, err)
	}
	if platformFee > 0 {
		allocations = append(allocations, types.CapitalAllocation{
			StrategyID:     limits.PlatformTreasury,
			Amount:         platformFee,
			AllocationType: types.AllocationPlatformFee,
		})
		remaining = fixedpoint.SaturatingSub(remaining, platformFee)
	}
	if managerFee > 0 {
		if platformFee > 0 && limits.ManagerTreasury == limits.PlatformTreasury {
			merged, err := fixedpoint.CheckedAdd(allocations[0].Amount, managerFee)
			if err != nil {
				return nil, errors.Join(types.ErrBalanceOverflow, err)
			}
			allocations[0].Amount = merged
			planLogger.Debug().Str("treasury", limits.PlatformTreasury.String()).Msg("Merged manager fee into platform fee allocation")
		} else {
			allocations = append(allocations, types.CapitalAllocation{
				StrategyID:     limits.ManagerTreasury,
				Amount:         managerFee,
				AllocationType: types.AllocationManagerIncentive,
			})
		}
		remaining = fixedpoint.SaturatingSub(remaining, managerFee)
	}

	destinations := make(map[types.ID]struct{}, len(strategies)+2)
	for _, a := range allocations {
		destinations[a.StrategyID] = struct{}{}
	}
	for _, s := range strategies {
		if _, dup := destinations[s.StrategyID]; dup {
			return nil, fmt.Errorf("%w: %s is already an allocation destination", types.ErrDuplicateStrategy, s.StrategyID)
		}
		destinations[s.StrategyID] = struct{}{}
	}

	// ===== PERFORMANCE WEIGHTING =====
	var totalScore uint64
	for _, s := range strategies {
		if totalScore, err = fixedpoint.CheckedAdd(totalScore, s.PerformanceScore); err != nil {
			return nil, errors.Join(types.ErrBalanceOverflow, err)
		}
	}
	if totalScore == 0 {
		return nil, fmt.Errorf("%w: candidate scores sum to zero", types.ErrInvalidPerformanceScore)
	}

	maxSingle, err := fixedpoint.ApplyBps(availableCapital, limits.MaxSingleStrategyBps)
	if err != nil {
		return nil, errors.Join(ErrMathematicalError, types.ErrBalanceOverflow, err)
	}
	minSingle, err := fixedpoint.ApplyBps(availableCapital, limits.MinSingleStrategyBps)
	if err != nil {
		return nil, errors.Join(ErrMathematicalError, types.ErrBalanceOverflow, err)
	}

	// ===== PER-STRATEGY ALLOCATION =====
	for index, s := range strategies {
		if remaining == 0 {
			break
		}
		candidateLogger := planLogger.With().Str("strategyID", s.StrategyID.String()).Int("index", index).Logger()

		amount, err := fixedpoint.MulDiv(remaining, s.PerformanceScore, totalScore)
		if err != nil {
			return nil, errors.Join(ErrMathematicalError, types.ErrBalanceOverflow, err)
		}
		if amount > maxSingle {
			amount = maxSingle
		}
		if amount < minSingle {
			candidateLogger.Debug().Uint64("amount", amount).Uint64("minimum", minSingle).Msg("Skipping allocation below diversification minimum")
			continue
		}

		ticket, err := s.Protocol.MinimumTicket()
		if err != nil {
			return nil, err
		}
		if amount < ticket {
			candidateLogger.Debug().Uint64("amount", amount).Uint64("ticket", ticket).Msg("Skipping allocation below protocol minimum ticket")
			continue
		}

		adjustment := CalculateRiskAdjustment(s.VolatilityScore, limits)
		if amount, err = fixedpoint.ApplyBps(amount, adjustment); err != nil {
			return nil, errors.Join(ErrMathematicalError, types.ErrBalanceOverflow, err)
		}
		if amount > remaining {
			amount = remaining
		}
		if amount == 0 {
			continue
		}

		allocationType := types.AllocationRiskDiversification
		if index < TopPerformerSlots {
			allocationType = types.AllocationTopPerformer
		}
		allocations = append(allocations, types.CapitalAllocation{
			StrategyID:     s.StrategyID,
			Amount:         amount,
			AllocationType: allocationType,
		})
		remaining -= amount

		candidateLogger.Debug().
			Uint64("amount", amount).
			Uint64("riskAdjustmentBps", adjustment).
			Str("type", string(allocationType)).
			Msg("Allocated capital")
	}

	// ===== DUST REDISTRIBUTION =====
	if remaining > DustThreshold {
		for i := range allocations {
			if allocations[i].AllocationType != types.AllocationTopPerformer {
				continue
			}
			topped, err := fixedpoint.CheckedAdd(allocations[i].Amount, remaining)
			if err != nil {
				return nil, errors.Join(types.ErrBalanceOverflow, err)
			}
			allocations[i].Amount = topped
			planLogger.Debug().Uint64("dust", remaining).Str("strategyID", allocations[i].StrategyID.String()).Msg("Redistributed dust to top performer")
			remaining = 0
			break
		}
	}

	planLogger.Info().
		Uint64("availableCapital", availableCapital).
		Int("allocations", len(allocations)).
		Uint64("unallocated", remaining).
		Msg("Allocation plan calculated")

	return allocations, nil
}

// CalculateRiskAdjustment maps volatility onto a 50%-150% multiplier (in bps) scaled by the
// portfolio's risk tolerance and capped at 150%.
func CalculateRiskAdjustment(volatility uint32, limits types.RiskLimits) uint64 {
	v := uint64(volatility)
	if v > fixedpoint.BpsDenominator {
		v = fixedpoint.BpsDenominator
	}
	inverse := fixedpoint.BpsDenominator - v
	multiplier := MinRiskMultiplierBps + inverse*(MaxRiskMultiplierBps-MinRiskMultiplierBps)/fixedpoint.BpsDenominator

	final, err := fixedpoint.ApplyBps(multiplier, limits.RiskToleranceBps)
	if err != nil || final > MaxRiskMultiplierBps {
		return MaxRiskMultiplierBps
	}
	return final
}

// ValidateAllocations checks an allocation set and returns its total.
// Every destination appears at most once and every amount is in (0, MaxUint64/1000).
func ValidateAllocations(allocations []types.CapitalAllocation) (uint64, error) {
	seen := make(map[types.ID]struct{}, len(allocations))
	var total uint64
	for _, a := range allocations {
		if _, dup := seen[a.StrategyID]; dup {
			return 0, fmt.Errorf("%w: %s", types.ErrDuplicateStrategy, a.StrategyID)
		}
		seen[a.StrategyID] = struct{}{}

		if a.Amount == 0 {
			return 0, fmt.Errorf("%w: zero allocation to %s", types.ErrInsufficientBalance, a.StrategyID)
		}
		if a.Amount >= MaxAllocationAmount {
			return 0, fmt.Errorf("%w: allocation %d to %s", types.ErrBalanceOverflow, a.Amount, a.StrategyID)
		}
		var err error
		if total, err = fixedpoint.CheckedAdd(total, a.Amount); err != nil {
			return 0, errors.Join(types.ErrBalanceOverflow, err)
		}
	}
	return total, nil
}

// SplitFees separates fee carve-outs from strategy allocations, preserving order.
func SplitFees(allocations []types.CapitalAllocation) (strategyAllocations, fees []types.CapitalAllocation) {
	for _, a := range allocations {
		if a.AllocationType.IsFee() {
			fees = append(fees, a)
			continue
		}
		strategyAllocations = append(strategyAllocations, a)
	}
	return strategyAllocations, fees
}

// ValidateRiskLimits wraps RiskLimits.Validate with the planner's error.
func ValidateRiskLimits(limits types.RiskLimits) error {
	if err := limits.Validate(); err != nil {
		return errors.Join(ErrInvalidRiskLimits, err)
	}
	return nil
}
