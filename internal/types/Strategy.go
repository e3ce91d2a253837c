/*

This file contains the strategy record: one protocol position the portfolio holds capital in.

*/

package types

import (
	"fmt"
	"math"
)

// StrategyStatus controls whether a strategy participates in rebalancing.
type StrategyStatus string

const (
	StrategyActive     StrategyStatus = "active"     // Normal operation, participates in rebalancing
	StrategyPaused     StrategyStatus = "paused"     // Temporarily disabled, no new allocations
	StrategyDeprecated StrategyStatus = "deprecated" // Marked for removal, extract capital when possible
)

// Valid reports whether s is one of the known statuses.
func (s StrategyStatus) Valid() bool {
	switch s {
	case StrategyActive, StrategyPaused, StrategyDeprecated:
		return true
	}
	return false
}

// Strategy limits and registration defaults
const (
	MaxYieldRateBps          uint64 = 50000 // 500%
	MaxVolatilityScore       uint32 = 10000
	MaxPerformanceScore      uint64 = 10000
	MaxPercentileRank        uint8  = 100
	MaxBalance               uint64 = math.MaxUint64 / 1000
	DefaultVolatilityScore   uint32 = 5000
	DefaultPercentileRank    uint8  = 50
	DefaultPerformanceFeeBps uint16 = 200
)

type Strategy struct {
	StrategyID       ID             `json:"strategy_id"`
	Protocol         ProtocolType   `json:"protocol"`
	CurrentBalance   uint64         `json:"current_balance"`   // base units
	YieldRateBps     uint64         `json:"yield_rate_bps"`    // annual yield, 0-50000
	VolatilityScore  uint32         `json:"volatility_score"`  // 0-10000
	PerformanceScore uint64         `json:"performance_score"` // derived, 0-10000
	PercentileRank   uint8          `json:"percentile_rank"`   // 0-100
	LastUpdated      int64          `json:"last_updated"`
	Status           StrategyStatus `json:"status"`
	TotalDeposits    uint64         `json:"total_deposits"`
	TotalWithdrawals uint64         `json:"total_withdrawals"`
	CreationTime     int64          `json:"creation_time"`
}

// Clone returns a deep copy of s.
func (s Strategy) Clone() Strategy {
	s.Protocol = s.Protocol.Clone()
	return s
}

// IsActive reports whether the strategy may be extracted from or allocated to.
func (s *Strategy) IsActive() bool {
	return s.Status == StrategyActive
}

// PerformanceData projects the fields the planner and orchestrator read.
func (s *Strategy) PerformanceData() StrategyPerformanceData {
	return StrategyPerformanceData{
		StrategyID:       s.StrategyID,
		PerformanceScore: s.PerformanceScore,
		CurrentBalance:   s.CurrentBalance,
		VolatilityScore:  s.VolatilityScore,
		Protocol:         s.Protocol.Clone(),
		PercentileRank:   s.PercentileRank,
	}
}

// ValidateYieldRate rejects yields above 500%.
func ValidateYieldRate(rate uint64) error {
	if rate > MaxYieldRateBps {
		return fmt.Errorf("%w: %d bps", ErrExcessiveYieldRate, rate)
	}
	return nil
}

// ValidateVolatilityScore rejects scores above 10000.
func ValidateVolatilityScore(score uint32) error {
	if score > MaxVolatilityScore {
		return fmt.Errorf("%w: %d", ErrInvalidVolatilityScore, score)
	}
	return nil
}

// ValidateBalanceUpdate keeps balances far enough below MaxUint64 that bps products stay representable.
func ValidateBalanceUpdate(balance uint64) error {
	if balance >= MaxBalance {
		return fmt.Errorf("%w: %d", ErrBalanceOverflow, balance)
	}
	return nil
}

// StrategyPerformanceData is the read-only view of a strategy consumed by allocation planning.
type StrategyPerformanceData struct {
	StrategyID       ID           `json:"strategy_id"`
	PerformanceScore uint64       `json:"performance_score"`
	CurrentBalance   uint64       `json:"current_balance"`
	VolatilityScore  uint32       `json:"volatility_score"`
	Protocol         ProtocolType `json:"protocol"`
	PercentileRank   uint8        `json:"percentile_rank"`
}
