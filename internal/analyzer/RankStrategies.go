/*

This file contains the functions for ranking strategies by performance score and selecting
the extraction and allocation candidates of a rebalancing cycle.

*/

package analyzer

import (
	"bytes"
	"sort"

	"github.com/elys-network/rebalancer/internal/logger"
	"github.com/elys-network/rebalancer/internal/types"
)

var rankLogger = logger.GetForComponent("strategy_ranker")

// Selection constants
const (
	TopPerformerMinRank      = uint8(75) // top quartile
	MaxTopPerformers         = 5
	ExpectedImprovementPct   = uint64(15)
	ExpectedImprovementScale = uint64(100)
)

// AssignPercentileRanks orders the strategies by performance score (descending, ties broken by
// strategy ID) and writes each one's percentile rank: the best strategy gets 100 and the worst 0.
// Strategies with equal scores share the rank of the first of their group. A single strategy
// ranks 100. The slice order is not changed.
func AssignPercentileRanks(strategies []*types.Strategy) {
	n := len(strategies)
	if n == 0 {
		return
	}
	if n == 1 {
		strategies[0].PercentileRank = types.MaxPercentileRank
		return
	}

	ordered := make([]*types.Strategy, n)
	copy(ordered, strategies)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].PerformanceScore != ordered[j].PerformanceScore {
			return ordered[i].PerformanceScore > ordered[j].PerformanceScore
		}
		return bytes.Compare(ordered[i].StrategyID[:], ordered[j].StrategyID[:]) < 0
	})

	groupStart := 0
	for pos, s := range ordered {
		if pos > 0 && s.PerformanceScore != ordered[pos-1].PerformanceScore {
			groupStart = pos
		}
		s.PercentileRank = uint8(uint64(n-1-groupStart) * 100 / uint64(n-1))

		rankLogger.Debug().
			Str("strategyID", s.StrategyID.String()).
			Uint64("score", s.PerformanceScore).
			Uint8("percentile", s.PercentileRank).
			Msg("Assigned percentile rank")
	}
}

// SelectUnderperformers returns, in input order, the strategies ranked strictly below the threshold.
func SelectUnderperformers(strategies []types.StrategyPerformanceData, threshold uint8) []types.StrategyPerformanceData {
	out := make([]types.StrategyPerformanceData, 0)
	for _, s := range strategies {
		if s.PercentileRank < threshold {
			out = append(out, s)
		}
	}
	return out
}

// SelectTopPerformers returns, in input order, at most MaxTopPerformers strategies in the top quartile.
func SelectTopPerformers(strategies []types.StrategyPerformanceData) []types.StrategyPerformanceData {
	out := make([]types.StrategyPerformanceData, 0, MaxTopPerformers)
	for _, s := range strategies {
		if len(out) == MaxTopPerformers {
			break
		}
		if s.PercentileRank >= TopPerformerMinRank {
			out = append(out, s)
		}
	}
	return out
}

// CalculateExpectedImprovement estimates the score improvement of a rebalance as 15% of the
// average score of the selected top performers.
func CalculateExpectedImprovement(topPerformers []types.StrategyPerformanceData) uint64 {
	if len(topPerformers) == 0 {
		return 0
	}
	var sum uint64
	for _, s := range topPerformers {
		// scores are bounded by 10000, the sum cannot overflow for any realistic slice
		sum += s.PerformanceScore
	}
	average := sum / uint64(len(topPerformers))
	return average * ExpectedImprovementPct / ExpectedImprovementScale
}
