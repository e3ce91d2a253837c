package rebalancer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/elys-network/rebalancer/internal/analyzer"
	"github.com/elys-network/rebalancer/internal/fixedpoint"
	"github.com/elys-network/rebalancer/internal/metrics"
	"github.com/elys-network/rebalancer/internal/planner"
	"github.com/elys-network/rebalancer/internal/types"
)

// IsSkip reports whether a cycle error means "nothing to do this time" rather than a failure.
func IsSkip(err error) bool {
	return errors.Is(err, types.ErrRebalanceTooSoon) ||
		errors.Is(err, types.ErrEmergencyPaused) ||
		errors.Is(err, types.ErrInsufficientStrategies) ||
		errors.Is(err, types.ErrInsufficientBalance)
}

// RunCycle executes a complete rebalancing cycle for one portfolio:
// rank, plan, extract from the underperformers, redistribute to the top performers.
// Ranks are persisted even when no plan can be built.
func (s *Service) RunCycle(ctx context.Context, manager types.ID) (*types.CycleReport, error) {
	cycleStartTime := time.Now()
	cycleLogger := serviceLogger.With().Str("cycle_id", uuid.New().String()).Str("manager", manager.String()).Logger()
	cycleLogger.Info().Msg("--- Starting rebalancing cycle ---")

	var report *types.CycleReport
	err := s.withPortfolio(ctx, "run_cycle", manager, func(ws *workingSet) error {
		// --- 1. Ranking ---
		if _, err := s.rank(ws); err != nil {
			return err
		}

		// --- 2. Planning ---
		limits, err := s.RiskLimits(ctx, manager)
		if err != nil {
			return err
		}
		plan, err := PlanRebalance(ws.portfolio, ws.activePerformanceData(), limits)
		if err != nil {
			if IsSkip(err) {
				cycleLogger.Info().Err(err).Msg("No rebalancing plan this cycle; keeping new ranks")
				report = nil
				return nil
			}
			return err
		}
		cycleLogger.Info().
			Str("plan_id", plan.PlanID.String()).
			Int("targets", len(plan.ExtractionTargets)).
			Uint64("total_to_extract", plan.TotalToExtract).
			Msg("Plan calculated")

		// --- 3. Extraction ---
		targets, err := s.extractableTargets(ctx, ws, plan.ExtractionTargets)
		if err != nil {
			return err
		}
		var extractions []types.ExtractionResult
		for start := 0; start < len(targets); start += MaxExtractionTargets {
			end := min(start+MaxExtractionTargets, len(targets))
			batch, err := s.extract(ctx, ws, targets[start:end])
			if err != nil {
				return err
			}
			extractions = append(extractions, batch...)
		}
		totalExtracted, totalFees, err := sumExtractions(extractions)
		if err != nil {
			return err
		}

		// --- 4. Redistribution ---
		// Protocol fees and slippage make the realized amount smaller than planned; re-plan on what arrived.
		allocations := plan.RedistributionPlan
		if totalExtracted != plan.TotalToExtract {
			allocations = nil
			if totalExtracted > 0 {
				allocations, err = planner.CalculateOptimalAllocation(totalExtracted, analyzer.SelectTopPerformers(ws.activePerformanceData()), limits)
				if err != nil {
					return err
				}
			}
			plan.RedistributionPlan = allocations
		}

		strategyAllocations, fees := planner.SplitFees(allocations)
		var totalRedistributed uint64
		if len(strategyAllocations) > 0 {
			if totalRedistributed, err = s.redistribute(ctx, ws, strategyAllocations); err != nil {
				return err
			}
		}
		for _, f := range fees {
			if totalFees, err = fixedpoint.CheckedAdd(totalFees, f.Amount); err != nil {
				return errors.Join(types.ErrBalanceOverflow, err)
			}
		}

		report = &types.CycleReport{
			Plan:               *plan,
			Extractions:        extractions,
			TotalExtracted:     totalExtracted,
			TotalRedistributed: totalRedistributed,
			TotalFeesPaid:      totalFees,
		}
		return nil
	})
	if err != nil {
		status := "failed"
		if IsSkip(err) {
			status = "skipped"
		}
		metrics.CyclesTotal.WithLabelValues(status).Inc()
		cycleLogger.Warn().Err(err).Str("status", status).Msg("Rebalancing cycle did not run")
		return nil, err
	}
	if report == nil {
		metrics.CyclesTotal.WithLabelValues("ranked_only").Inc()
		s.publish(EventRankingCompleted, manager, nil)
		return nil, nil
	}

	// --- 5. Audit trail ---
	cycleNumber, err := s.store.IncrementCycleNumber(ctx, manager)
	if err != nil {
		return nil, err
	}
	report.CycleNumber = cycleNumber
	report.CompletedAt = time.Now().UTC()
	if err := s.store.SaveCycleReport(ctx, manager, *report); err != nil {
		cycleLogger.Error().Err(err).Int("cycle", cycleNumber).Msg("Failed to save cycle report")
		return report, err
	}

	recordExtractions(report.Extractions)
	recordAllocations(report.Plan.RedistributionPlan)
	metrics.CyclesTotal.WithLabelValues("completed").Inc()
	metrics.CycleDuration.Observe(time.Since(cycleStartTime).Seconds())

	cycleLogger.Info().
		Int("cycle", cycleNumber).
		Uint64("total_extracted", report.TotalExtracted).
		Uint64("total_redistributed", report.TotalRedistributed).
		Uint64("total_fees", report.TotalFeesPaid).
		Dur("duration", time.Since(cycleStartTime)).
		Msg("--- Rebalancing cycle completed ---")
	s.publish(EventCycleCompleted, manager, report)
	return report, nil
}

// sumExtractions totals extracted capital and protocol fees.
func sumExtractions(results []types.ExtractionResult) (extracted, fees uint64, err error) {
	for _, r := range results {
		if extracted, err = fixedpoint.CheckedAdd(extracted, r.ExtractedAmount); err != nil {
			return 0, 0, errors.Join(types.ErrBalanceOverflow, err)
		}
		if fees, err = fixedpoint.CheckedAdd(fees, r.FeesPaid); err != nil {
			return 0, 0, errors.Join(types.ErrBalanceOverflow, err)
		}
	}
	return extracted, fees, nil
}

// extractableTargets drops planned targets that hold nothing the engine can withdraw:
// empty strategies and liquidity positions without platform-controlled LP.
func (s *Service) extractableTargets(ctx context.Context, ws *workingSet, planned []types.ID) ([]types.ID, error) {
	out := make([]types.ID, 0, len(planned))
	for _, id := range planned {
		st, ok := ws.strategy(id)
		if !ok {
			return nil, types.ErrStrategyNotFound
		}
		if st.CurrentBalance == 0 {
			continue
		}
		if st.Protocol.Kind == types.ProtocolYieldFarming {
			position, err := ws.position(ctx, s.store, id)
			if err != nil {
				return nil, err
			}
			if position.LPTokens == 0 || position.PlatformControlledLP == 0 {
				serviceLogger.Debug().Str("strategyID", id.String()).Msg("Skipping liquidity position without platform LP")
				continue
			}
		}
		out = append(out, id)
	}
	return out, nil
}

// RunLoop runs a cycle for every portfolio on each tick until ctx is cancelled.
func (s *Service) RunLoop(ctx context.Context, interval time.Duration) {
	serviceLogger.Info().Dur("interval", interval).Msg("Starting rebalancer main loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run first pass immediately
	s.runAll(ctx)

	for {
		select {
		case <-ctx.Done():
			serviceLogger.Info().Msg("Rebalancer loop stopped due to context cancellation")
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	portfolios, err := s.store.ListPortfolios(ctx)
	if err != nil {
		serviceLogger.Error().Err(err).Msg("Failed to list portfolios")
		return
	}
	for _, p := range portfolios {
		if ctx.Err() != nil {
			return
		}
		if !p.CanRebalance(s.now()) {
			continue
		}
		if _, err := s.RunCycle(ctx, p.Manager); err != nil && !IsSkip(err) {
			serviceLogger.Error().Err(err).Str("manager", p.Manager.String()).Msg("Rebalancing cycle failed")
		}
	}
}
