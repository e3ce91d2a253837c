/*

This file contains the rebalancing orchestrator: it turns a ranked portfolio into a plan that
names the strategies to extract from and how the extracted capital is redistributed.

*/

package rebalancer

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/elys-network/rebalancer/internal/analyzer"
	"github.com/elys-network/rebalancer/internal/fixedpoint"
	"github.com/elys-network/rebalancer/internal/metrics"
	"github.com/elys-network/rebalancer/internal/planner"
	"github.com/elys-network/rebalancer/internal/types"
)

// Plan constants
const (
	RentReserve          = uint64(10_000_000)  // kept in every extracted strategy
	MinTotalExtractable  = uint64(100_000_000) // plans must move strictly more than this
	EstimatedFeeBps      = uint64(200)
	MaxExtractionTargets = 10
	MaxRedistributions   = 20
)

// PlanRebalanceDefault plans with types.DefaultRiskLimits.
func PlanRebalanceDefault(portfolio types.Portfolio, strategies []types.StrategyPerformanceData) (*types.RebalancingPlan, error) {
	return PlanRebalance(portfolio, strategies, types.DefaultRiskLimits())
}

// PlanRebalance builds a rebalancing plan.
// Inputs:
//   - portfolio: supplies the underperformer threshold and the pause flag.
//   - strategies: ranked strategies; only PercentileRank, balance, score, volatility and protocol are read.
//   - limits: passed to the allocation planner.
//
// Output:
//   - Extraction targets are the strategies ranked below the threshold, in input order.
//   - Capital is planned to move to the first five strategies in the top quartile.
func PlanRebalance(portfolio types.Portfolio, strategies []types.StrategyPerformanceData, limits types.RiskLimits) (*types.RebalancingPlan, error) {
	start := time.Now()
	defer func() { metrics.PlanDuration.Observe(time.Since(start).Seconds()) }()

	if portfolio.EmergencyPause {
		return nil, types.ErrEmergencyPaused
	}

	underperformers := analyzer.SelectUnderperformers(strategies, portfolio.RebalanceThreshold)
	topPerformers := analyzer.SelectTopPerformers(strategies)
	if len(underperformers) == 0 {
		return nil, fmt.Errorf("%w: no strategy ranked below %d", types.ErrInsufficientStrategies, portfolio.RebalanceThreshold)
	}
	if len(topPerformers) == 0 {
		return nil, fmt.Errorf("%w: no strategy in the top quartile", types.ErrInsufficientStrategies)
	}

	var totalExtractable uint64
	targets := make([]types.ID, 0, len(underperformers))
	for _, s := range underperformers {
		var err error
		totalExtractable, err = fixedpoint.CheckedAdd(totalExtractable, fixedpoint.SaturatingSub(s.CurrentBalance, RentReserve))
		if err != nil {
			return nil, errors.Join(types.ErrBalanceOverflow, err)
		}
		targets = append(targets, s.StrategyID)
	}
	if totalExtractable <= MinTotalExtractable {
		return nil, fmt.Errorf("%w: extractable %d does not exceed %d", types.ErrInsufficientBalance, totalExtractable, MinTotalExtractable)
	}

	allocations, err := planner.CalculateOptimalAllocation(totalExtractable, topPerformers, limits)
	if err != nil {
		return nil, err
	}

	estimatedFees, err := fixedpoint.ApplyBps(totalExtractable, EstimatedFeeBps)
	if err != nil {
		return nil, errors.Join(types.ErrBalanceOverflow, err)
	}

	plan := &types.RebalancingPlan{
		PlanID:              uuid.New(),
		Manager:             portfolio.Manager,
		CreatedAt:           time.Now().UTC(),
		ExtractionTargets:   targets,
		TotalToExtract:      totalExtractable,
		RedistributionPlan:  allocations,
		EstimatedFees:       estimatedFees,
		ExpectedImprovement: analyzer.CalculateExpectedImprovement(topPerformers),
	}

	serviceLogger.Debug().
		Str("plan_id", plan.PlanID.String()).
		Int("targets", len(targets)).
		Int("top_performers", len(topPerformers)).
		Uint64("total_to_extract", totalExtractable).
		Uint64("expected_improvement", plan.ExpectedImprovement).
		Msg("Rebalancing plan calculated")
	return plan, nil
}
