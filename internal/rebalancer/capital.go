package rebalancer

import (
	"context"
	"errors"
	"fmt"

	"github.com/elys-network/rebalancer/internal/fixedpoint"
	"github.com/elys-network/rebalancer/internal/metrics"
	"github.com/elys-network/rebalancer/internal/planner"
	"github.com/elys-network/rebalancer/internal/types"
)

// ExtractCapital withdraws capital from 1 to 10 strategies. Either every extraction succeeds and
// the portfolio's capital-moved counter grows by the total, or nothing is persisted.
func (s *Service) ExtractCapital(ctx context.Context, manager types.ID, strategyIDs []types.ID) ([]types.ExtractionResult, error) {
	var results []types.ExtractionResult
	err := s.withPortfolio(ctx, "extract_capital", manager, func(ws *workingSet) error {
		var err error
		results, err = s.extract(ctx, ws, strategyIDs)
		return err
	})
	if err != nil {
		return nil, err
	}

	recordExtractions(results)
	s.publish(EventCapitalExtracted, manager, results)
	return results, nil
}

func (s *Service) extract(ctx context.Context, ws *workingSet, strategyIDs []types.ID) ([]types.ExtractionResult, error) {
	if ws.portfolio.EmergencyPause {
		return nil, types.ErrEmergencyPaused
	}
	if len(strategyIDs) == 0 {
		return nil, fmt.Errorf("%w: no strategies to extract from", types.ErrInsufficientStrategies)
	}
	if len(strategyIDs) > MaxExtractionTargets {
		return nil, fmt.Errorf("%w: %d strategies, at most %d per extraction", types.ErrTooManyStrategies, len(strategyIDs), MaxExtractionTargets)
	}

	seen := make(map[types.ID]struct{}, len(strategyIDs))
	results := make([]types.ExtractionResult, 0, len(strategyIDs))
	var total uint64
	for _, id := range strategyIDs {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %s listed twice", types.ErrDuplicateStrategy, id)
		}
		seen[id] = struct{}{}

		st, ok := ws.strategy(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", types.ErrStrategyNotFound, id)
		}
		position, err := ws.position(ctx, s.store, id)
		if err != nil {
			return nil, err
		}
		result, err := s.engine.Extract(ctx, st, position)
		if err != nil {
			return nil, fmt.Errorf("extraction from %s failed: %w", id, err)
		}
		ws.touched[id] = true

		if total, err = fixedpoint.CheckedAdd(total, result.ExtractedAmount); err != nil {
			return nil, errors.Join(types.ErrBalanceOverflow, err)
		}
		results = append(results, result)
	}

	if err := checkedMove(&ws.portfolio, total); err != nil {
		return nil, err
	}

	serviceLogger.Info().
		Str("manager", ws.portfolio.Manager.String()).
		Int("strategies", len(results)).
		Uint64("total_extracted", total).
		Msg("Capital extracted")
	return results, nil
}

// RedistributeCapital applies 1 to 20 allocations. Strategy allocations credit the destination's
// balance, deposits and position; fee allocations are only counted as moved capital.
// Returns the total allocated.
func (s *Service) RedistributeCapital(ctx context.Context, manager types.ID, allocations []types.CapitalAllocation) (uint64, error) {
	var total uint64
	err := s.withPortfolio(ctx, "redistribute_capital", manager, func(ws *workingSet) error {
		var err error
		total, err = s.redistribute(ctx, ws, allocations)
		return err
	})
	if err != nil {
		return 0, err
	}

	recordAllocations(allocations)
	s.publish(EventCapitalRedistributed, manager, allocations)
	return total, nil
}

func (s *Service) redistribute(ctx context.Context, ws *workingSet, allocations []types.CapitalAllocation) (uint64, error) {
	if ws.portfolio.EmergencyPause {
		return 0, types.ErrEmergencyPaused
	}
	if len(allocations) == 0 {
		return 0, fmt.Errorf("%w: no allocations", types.ErrInsufficientStrategies)
	}
	if len(allocations) > MaxRedistributions {
		return 0, fmt.Errorf("%w: %d allocations, at most %d per redistribution", types.ErrTooManyStrategies, len(allocations), MaxRedistributions)
	}

	total, err := planner.ValidateAllocations(allocations)
	if err != nil {
		return 0, err
	}

	strategyAllocations, _ := planner.SplitFees(allocations)
	for _, a := range strategyAllocations {
		st, ok := ws.strategy(a.StrategyID)
		if !ok || !st.IsActive() {
			return 0, fmt.Errorf("%w: cannot allocate to %s", types.ErrStrategyNotFound, a.StrategyID)
		}
		position, err := ws.position(ctx, s.store, a.StrategyID)
		if err != nil {
			return 0, err
		}
		if err := credit(st, position, a.Amount, s.now()); err != nil {
			return 0, fmt.Errorf("allocation to %s failed: %w", a.StrategyID, err)
		}
		ws.touched[a.StrategyID] = true
	}

	if err := checkedMove(&ws.portfolio, total); err != nil {
		return 0, err
	}

	serviceLogger.Info().
		Str("manager", ws.portfolio.Manager.String()).
		Int("allocations", len(allocations)).
		Uint64("total_allocated", total).
		Msg("Capital redistributed")
	return total, nil
}

// credit adds amount to a strategy and its position. Nothing is written unless every sum fits.
func credit(st *types.Strategy, position *types.CapitalPosition, amount uint64, now int64) error {
	balance, err := fixedpoint.CheckedAdd(st.CurrentBalance, amount)
	if err != nil {
		return errors.Join(types.ErrBalanceOverflow, err)
	}
	if err := types.ValidateBalanceUpdate(balance); err != nil {
		return err
	}
	deposits, err := fixedpoint.CheckedAdd(st.TotalDeposits, amount)
	if err != nil {
		return errors.Join(types.ErrBalanceOverflow, err)
	}

	updated := *position
	switch position.PositionType {
	case types.PositionLiquidityPair:
		half := amount / 2
		if updated.TokenAAmount, err = fixedpoint.CheckedAdd(position.TokenAAmount, half); err != nil {
			return errors.Join(types.ErrBalanceOverflow, err)
		}
		if updated.TokenBAmount, err = fixedpoint.CheckedAdd(position.TokenBAmount, amount-half); err != nil {
			return errors.Join(types.ErrBalanceOverflow, err)
		}
		if updated.LPTokens, err = fixedpoint.CheckedAdd(position.LPTokens, amount); err != nil {
			return errors.Join(types.ErrBalanceOverflow, err)
		}
		if updated.PlatformControlledLP, err = fixedpoint.CheckedAdd(position.PlatformControlledLP, amount); err != nil {
			return errors.Join(types.ErrBalanceOverflow, err)
		}
	default:
		if updated.TokenAAmount, err = fixedpoint.CheckedAdd(position.TokenAAmount, amount); err != nil {
			return errors.Join(types.ErrBalanceOverflow, err)
		}
	}
	updated.LastRebalance = now

	st.CurrentBalance = balance
	st.TotalDeposits = deposits
	st.LastUpdated = now
	*position = updated
	return nil
}

func recordExtractions(results []types.ExtractionResult) {
	for _, r := range results {
		metrics.CapitalExtracted.WithLabelValues(string(r.ExtractionType)).Add(float64(r.ExtractedAmount))
		metrics.ExtractionFees.WithLabelValues(string(r.ExtractionType)).Add(float64(r.FeesPaid))
	}
}

func recordAllocations(allocations []types.CapitalAllocation) {
	for _, a := range allocations {
		metrics.CapitalAllocated.WithLabelValues(string(a.AllocationType)).Add(float64(a.Amount))
	}
}
