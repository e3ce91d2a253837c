/*

This file defines the persistence boundary of the rebalancer.

A Store keeps portfolios, the strategies and capital positions that belong to each portfolio,
executed cycle reports, the per-portfolio cycle counter and the active risk limits. Every
mutation that touches more than one record goes through Commit so that a rebalancing step is
persisted atomically or not at all.

*/

package state

import (
	"context"

	"github.com/elys-network/rebalancer/internal/types"
)

// Snapshot is the set of records written by one atomic Commit.
type Snapshot struct {
	Portfolio  types.Portfolio
	Strategies []types.Strategy
	Positions  []types.CapitalPosition
}

// Store is implemented by MemoryStore and PostgresStore.
type Store interface {
	// CreatePortfolio inserts a new portfolio, failing with types.ErrPortfolioExists.
	CreatePortfolio(ctx context.Context, portfolio types.Portfolio) error
	GetPortfolio(ctx context.Context, manager types.ID) (types.Portfolio, error)
	ListPortfolios(ctx context.Context) ([]types.Portfolio, error)

	GetStrategy(ctx context.Context, manager, strategyID types.ID) (types.Strategy, error)
	// ListStrategies returns the portfolio's strategies in registration order.
	ListStrategies(ctx context.Context, manager types.ID) ([]types.Strategy, error)
	GetPosition(ctx context.Context, manager, strategyID types.ID) (types.CapitalPosition, error)

	// Commit upserts the portfolio and every listed strategy and position in one transaction.
	Commit(ctx context.Context, snapshot Snapshot) error

	SaveCycleReport(ctx context.Context, manager types.ID, report types.CycleReport) error
	// RecentCycleReports returns the newest reports first; limit <= 0 returns all of them.
	RecentCycleReports(ctx context.Context, manager types.ID, limit int) ([]types.CycleReport, error)
	IncrementCycleNumber(ctx context.Context, manager types.ID) (int, error)
	GetCurrentCycleNumber(ctx context.Context, manager types.ID) (int, error)

	SaveRiskLimits(ctx context.Context, manager types.ID, limits types.RiskLimits) error
	// LoadRiskLimits reports false when the portfolio has no stored limits.
	LoadRiskLimits(ctx context.Context, manager types.ID) (types.RiskLimits, bool, error)

	Close() error
}
