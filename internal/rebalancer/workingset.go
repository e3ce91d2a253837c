package rebalancer

import (
	"context"

	"github.com/elys-network/rebalancer/internal/state"
	"github.com/elys-network/rebalancer/internal/types"
)

// workingSet is a private copy of one portfolio that operations mutate before a single Commit.
type workingSet struct {
	portfolio  types.Portfolio
	strategies []types.Strategy
	index      map[types.ID]int
	positions  map[types.ID]*types.CapitalPosition
	touched    map[types.ID]bool
}

func (s *Service) loadWorkingSet(ctx context.Context, manager types.ID) (*workingSet, error) {
	portfolio, err := s.store.GetPortfolio(ctx, manager)
	if err != nil {
		return nil, err
	}
	if err := portfolio.Authorize(manager); err != nil {
		return nil, err
	}
	strategies, err := s.store.ListStrategies(ctx, manager)
	if err != nil {
		return nil, err
	}

	ws := &workingSet{
		portfolio:  portfolio,
		strategies: strategies,
		index:      make(map[types.ID]int, len(strategies)),
		positions:  make(map[types.ID]*types.CapitalPosition),
		touched:    make(map[types.ID]bool),
	}
	for i, st := range strategies {
		ws.index[st.StrategyID] = i
	}
	return ws, nil
}

func (ws *workingSet) strategy(id types.ID) (*types.Strategy, bool) {
	i, ok := ws.index[id]
	if !ok {
		return nil, false
	}
	return &ws.strategies[i], true
}

func (ws *workingSet) position(ctx context.Context, store state.Store, id types.ID) (*types.CapitalPosition, error) {
	if p, ok := ws.positions[id]; ok {
		return p, nil
	}
	p, err := store.GetPosition(ctx, ws.portfolio.Manager, id)
	if err != nil {
		return nil, err
	}
	ws.positions[id] = &p
	return &p, nil
}

func (ws *workingSet) activePerformanceData() []types.StrategyPerformanceData {
	out := make([]types.StrategyPerformanceData, 0, len(ws.strategies))
	for i := range ws.strategies {
		if ws.strategies[i].IsActive() {
			out = append(out, ws.strategies[i].PerformanceData())
		}
	}
	return out
}

func (ws *workingSet) snapshot() state.Snapshot {
	snap := state.Snapshot{Portfolio: ws.portfolio}
	for _, st := range ws.strategies {
		if !ws.touched[st.StrategyID] {
			continue
		}
		snap.Strategies = append(snap.Strategies, st)
		if p, ok := ws.positions[st.StrategyID]; ok {
			snap.Positions = append(snap.Positions, *p)
		}
	}
	return snap
}

func (ws *workingSet) statusCounts() map[types.StrategyStatus]int {
	counts := map[types.StrategyStatus]int{
		types.StrategyActive:     0,
		types.StrategyPaused:     0,
		types.StrategyDeprecated: 0,
	}
	for _, st := range ws.strategies {
		counts[st.Status]++
	}
	return counts
}
