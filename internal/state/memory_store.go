package state

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/elys-network/rebalancer/internal/types"
)

type portfolioRecord struct {
	portfolio     types.Portfolio
	strategies    map[types.ID]types.Strategy
	order         []types.ID
	positions     map[types.ID]types.CapitalPosition
	reports       []types.CycleReport
	cycle         int
	limits        types.RiskLimits
	hasRiskLimits bool
}

// MemoryStore keeps everything in process memory. Values are copied on the way in and out.
type MemoryStore struct {
	mu         sync.RWMutex
	portfolios map[types.ID]*portfolioRecord
	order      []types.ID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{portfolios: make(map[types.ID]*portfolioRecord)}
}

func (m *MemoryStore) record(manager types.ID) (*portfolioRecord, error) {
	rec, ok := m.portfolios[manager]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrPortfolioNotFound, manager)
	}
	return rec, nil
}

func (m *MemoryStore) CreatePortfolio(ctx context.Context, portfolio types.Portfolio) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.portfolios[portfolio.Manager]; exists {
		return fmt.Errorf("%w: %s", types.ErrPortfolioExists, portfolio.Manager)
	}
	m.portfolios[portfolio.Manager] = &portfolioRecord{
		portfolio:  portfolio,
		strategies: make(map[types.ID]types.Strategy),
		positions:  make(map[types.ID]types.CapitalPosition),
	}
	m.order = append(m.order, portfolio.Manager)
	return nil
}

func (m *MemoryStore) GetPortfolio(ctx context.Context, manager types.ID) (types.Portfolio, error) {
	if err := ctx.Err(); err != nil {
		return types.Portfolio{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, err := m.record(manager)
	if err != nil {
		return types.Portfolio{}, err
	}
	return rec.portfolio, nil
}

func (m *MemoryStore) ListPortfolios(ctx context.Context) ([]types.Portfolio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.Portfolio, 0, len(m.order))
	for _, manager := range m.order {
		out = append(out, m.portfolios[manager].portfolio)
	}
	return out, nil
}

func (m *MemoryStore) GetStrategy(ctx context.Context, manager, strategyID types.ID) (types.Strategy, error) {
	if err := ctx.Err(); err != nil {
		return types.Strategy{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, err := m.record(manager)
	if err != nil {
		return types.Strategy{}, err
	}
	s, ok := rec.strategies[strategyID]
	if !ok {
		return types.Strategy{}, fmt.Errorf("%w: %s", types.ErrStrategyNotFound, strategyID)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) ListStrategies(ctx context.Context, manager types.ID) ([]types.Strategy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, err := m.record(manager)
	if err != nil {
		return nil, err
	}
	out := make([]types.Strategy, 0, len(rec.order))
	for _, id := range rec.order {
		out = append(out, rec.strategies[id].Clone())
	}
	return out, nil
}

func (m *MemoryStore) GetPosition(ctx context.Context, manager, strategyID types.ID) (types.CapitalPosition, error) {
	if err := ctx.Err(); err != nil {
		return types.CapitalPosition{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, err := m.record(manager)
	if err != nil {
		return types.CapitalPosition{}, err
	}
	p, ok := rec.positions[strategyID]
	if !ok {
		return types.CapitalPosition{}, fmt.Errorf("%w: no position for %s", types.ErrStrategyNotFound, strategyID)
	}
	return p, nil
}

func (m *MemoryStore) Commit(ctx context.Context, snapshot Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.record(snapshot.Portfolio.Manager)
	if err != nil {
		return err
	}
	for _, p := range snapshot.Positions {
		if err := p.Validate(); err != nil {
			return err
		}
	}

	rec.portfolio = snapshot.Portfolio
	for _, s := range snapshot.Strategies {
		if _, exists := rec.strategies[s.StrategyID]; !exists {
			rec.order = append(rec.order, s.StrategyID)
		}
		rec.strategies[s.StrategyID] = s.Clone()
	}
	for _, p := range snapshot.Positions {
		rec.positions[p.StrategyID] = p
	}
	return nil
}

func cloneReport(r types.CycleReport) types.CycleReport {
	r.Plan.ExtractionTargets = slices.Clone(r.Plan.ExtractionTargets)
	r.Plan.RedistributionPlan = slices.Clone(r.Plan.RedistributionPlan)
	r.Extractions = slices.Clone(r.Extractions)
	return r
}

func (m *MemoryStore) SaveCycleReport(ctx context.Context, manager types.ID, report types.CycleReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.record(manager)
	if err != nil {
		return err
	}
	rec.reports = append(rec.reports, cloneReport(report))
	return nil
}

func (m *MemoryStore) RecentCycleReports(ctx context.Context, manager types.ID, limit int) ([]types.CycleReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, err := m.record(manager)
	if err != nil {
		return nil, err
	}
	n := len(rec.reports)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]types.CycleReport, 0, n)
	for i := len(rec.reports) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, cloneReport(rec.reports[i]))
	}
	return out, nil
}

func (m *MemoryStore) IncrementCycleNumber(ctx context.Context, manager types.ID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.record(manager)
	if err != nil {
		return 0, err
	}
	rec.cycle++
	return rec.cycle, nil
}

func (m *MemoryStore) GetCurrentCycleNumber(ctx context.Context, manager types.ID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, err := m.record(manager)
	if err != nil {
		return 0, err
	}
	return rec.cycle, nil
}

func (m *MemoryStore) SaveRiskLimits(ctx context.Context, manager types.ID, limits types.RiskLimits) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := limits.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.record(manager)
	if err != nil {
		return err
	}
	rec.limits = limits
	rec.hasRiskLimits = true
	return nil
}

func (m *MemoryStore) LoadRiskLimits(ctx context.Context, manager types.ID) (types.RiskLimits, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.RiskLimits{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, err := m.record(manager)
	if err != nil {
		return types.RiskLimits{}, false, err
	}
	return rec.limits, rec.hasRiskLimits, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
