package rebalancer

import (
	"time"

	"github.com/elys-network/rebalancer/internal/types"
)

// EventType names a state transition published by the service.
type EventType string

const (
	EventPortfolioInitialized EventType = "portfolio_initialized"
	EventStrategyRegistered   EventType = "strategy_registered"
	EventPerformanceUpdated   EventType = "performance_updated"
	EventStatusChanged        EventType = "strategy_status_changed"
	EventEmergencyPause       EventType = "emergency_pause"
	EventRankingCompleted     EventType = "ranking_completed"
	EventCapitalExtracted     EventType = "capital_extracted"
	EventCapitalRedistributed EventType = "capital_redistributed"
	EventCycleCompleted       EventType = "cycle_completed"
)

// Event is a notification about a committed change.
type Event struct {
	Type    EventType `json:"type"`
	Manager types.ID  `json:"manager"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

// Publisher receives events after the change has been committed. Publish must not block.
type Publisher interface {
	Publish(event Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
