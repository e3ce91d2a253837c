package state

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/rebalancer/internal/types"
)

// PortfolioSummary represents high-level portfolio statistics.
// Sums are kept as sdkmath.Int because lifetime totals may exceed uint64.
type PortfolioSummary struct {
	Manager            types.ID    `json:"manager"`
	StrategyCount      int         `json:"strategy_count"`
	ActiveStrategies   int         `json:"active_strategies"`
	TotalBalance       sdkmath.Int `json:"total_balance"`
	TotalDeposits      sdkmath.Int `json:"total_deposits"`
	TotalWithdrawals   sdkmath.Int `json:"total_withdrawals"`
	TotalCapitalMoved  sdkmath.Int `json:"total_capital_moved"`
	TotalFeesPaid      sdkmath.Int `json:"total_fees_paid"`
	AveragePerformance uint64      `json:"average_performance"`
	TotalCycles        int         `json:"total_cycles"`
	LastRebalance      int64       `json:"last_rebalance"`
	NextRebalanceAt    int64       `json:"next_rebalance_at"`
	EmergencyPause     bool        `json:"emergency_pause"`
}

// GetPortfolioSummary aggregates the portfolio's strategies and executed cycles.
func GetPortfolioSummary(ctx context.Context, store Store, manager types.ID) (*PortfolioSummary, error) {
	portfolio, err := store.GetPortfolio(ctx, manager)
	if err != nil {
		return nil, err
	}
	strategies, err := store.ListStrategies(ctx, manager)
	if err != nil {
		return nil, fmt.Errorf("failed to list strategies for summary: %w", err)
	}
	reports, err := store.RecentCycleReports(ctx, manager, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load cycle reports for summary: %w", err)
	}
	cycles, err := store.GetCurrentCycleNumber(ctx, manager)
	if err != nil {
		return nil, err
	}

	summary := &PortfolioSummary{
		Manager:           manager,
		StrategyCount:     len(strategies),
		TotalBalance:      sdkmath.ZeroInt(),
		TotalDeposits:     sdkmath.ZeroInt(),
		TotalWithdrawals:  sdkmath.ZeroInt(),
		TotalCapitalMoved: sdkmath.NewIntFromUint64(portfolio.TotalCapitalMoved),
		TotalFeesPaid:     sdkmath.ZeroInt(),
		TotalCycles:       cycles,
		LastRebalance:     portfolio.LastRebalance,
		NextRebalanceAt:   portfolio.NextRebalanceAt(),
		EmergencyPause:    portfolio.EmergencyPause,
	}

	scoreSum := sdkmath.ZeroInt()
	for _, s := range strategies {
		summary.TotalBalance = summary.TotalBalance.Add(sdkmath.NewIntFromUint64(s.CurrentBalance))
		summary.TotalDeposits = summary.TotalDeposits.Add(sdkmath.NewIntFromUint64(s.TotalDeposits))
		summary.TotalWithdrawals = summary.TotalWithdrawals.Add(sdkmath.NewIntFromUint64(s.TotalWithdrawals))
		if s.IsActive() {
			summary.ActiveStrategies++
			scoreSum = scoreSum.Add(sdkmath.NewIntFromUint64(s.PerformanceScore))
		}
	}
	if summary.ActiveStrategies > 0 {
		summary.AveragePerformance = scoreSum.QuoRaw(int64(summary.ActiveStrategies)).Uint64()
	}

	for _, r := range reports {
		summary.TotalFeesPaid = summary.TotalFeesPaid.Add(sdkmath.NewIntFromUint64(r.TotalFeesPaid))
	}

	stateLogger.Debug().
		Str("manager", manager.String()).
		Int("strategies", summary.StrategyCount).
		Str("total_balance", summary.TotalBalance.String()).
		Msg("Computed portfolio summary")
	return summary, nil
}
