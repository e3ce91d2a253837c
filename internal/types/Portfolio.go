package types

import (
	"fmt"

	"github.com/elys-network/rebalancer/internal/fixedpoint"
)

// Portfolio configuration bounds
const (
	MinRebalanceThreshold uint8 = 1
	MaxRebalanceThreshold uint8 = 50
	MinRebalanceInterval  int64 = 3600  // 1 hour
	MaxRebalanceInterval  int64 = 86400 // 1 day
)

// Portfolio is the aggregate configuration and lifetime counters of one manager's strategies.
type Portfolio struct {
	Manager              ID     `json:"manager"`
	RebalanceThreshold   uint8  `json:"rebalance_threshold"` // percentile cutoff for underperformers, 1-50
	TotalStrategies      uint32 `json:"total_strategies"`
	TotalCapitalMoved    uint64 `json:"total_capital_moved"`
	LastRebalance        int64  `json:"last_rebalance"`
	MinRebalanceInterval int64  `json:"min_rebalance_interval"` // seconds, 3600-86400
	PortfolioCreation    int64  `json:"portfolio_creation"`
	EmergencyPause       bool   `json:"emergency_pause"`
	PerformanceFeeBps    uint16 `json:"performance_fee_bps"`
}

func ValidateRebalanceThreshold(threshold uint8) error {
	if threshold < MinRebalanceThreshold || threshold > MaxRebalanceThreshold {
		return fmt.Errorf("%w: got %d", ErrInvalidRebalanceThreshold, threshold)
	}
	return nil
}

func ValidateMinInterval(interval int64) error {
	if interval < MinRebalanceInterval || interval > MaxRebalanceInterval {
		return fmt.Errorf("%w: got %ds", ErrInvalidRebalanceInterval, interval)
	}
	return nil
}

// NextRebalanceAt is the earliest timestamp a ranking cycle may run.
func (p *Portfolio) NextRebalanceAt() int64 {
	return fixedpoint.SaturatingAddInt64(p.LastRebalance, p.MinRebalanceInterval)
}

// CanRebalance reports whether the portfolio is unpaused and the interval has elapsed.
func (p *Portfolio) CanRebalance(now int64) bool {
	return !p.EmergencyPause && now >= p.NextRebalanceAt()
}

// Authorize rejects callers other than the portfolio manager.
func (p *Portfolio) Authorize(caller ID) error {
	if caller.IsZero() || !p.Manager.Equals(caller) {
		return fmt.Errorf("%w: %s", ErrUnauthorizedManager, caller)
	}
	return nil
}
