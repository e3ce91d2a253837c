/*

This file contains the portfolio service: the host-side manager that owns portfolios and their
strategies, runs the ranking cycle and applies extraction and redistribution plans.

Every mutating operation holds the portfolio's lock, works on a private copy of the portfolio and
persists it with one Store.Commit, so an operation either takes full effect or none at all.

*/

package rebalancer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elys-network/rebalancer/internal/analyzer"
	"github.com/elys-network/rebalancer/internal/extraction"
	"github.com/elys-network/rebalancer/internal/fixedpoint"
	"github.com/elys-network/rebalancer/internal/logger"
	"github.com/elys-network/rebalancer/internal/metrics"
	"github.com/elys-network/rebalancer/internal/state"
	"github.com/elys-network/rebalancer/internal/types"
)

var serviceLogger = logger.GetForComponent("rebalancer")

// Service coordinates scoring, extraction and allocation for every portfolio in a Store.
type Service struct {
	store         state.Store
	engine        *extraction.Engine
	locker        state.Locker
	publisher     Publisher
	defaultLimits types.RiskLimits
}

// Config holds the dependencies of a Service.
type Config struct {
	Store         state.Store
	Engine        *extraction.Engine // defaults to an engine on the system clock
	Locker        state.Locker       // defaults to an in-process locker
	Publisher     Publisher
	DefaultLimits *types.RiskLimits // used when a portfolio has no stored limits
}

// NewService creates a Service with dependency injection.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	s := &Service{
		store:         cfg.Store,
		engine:        cfg.Engine,
		locker:        cfg.Locker,
		publisher:     cfg.Publisher,
		defaultLimits: types.DefaultRiskLimits(),
	}
	if s.engine == nil {
		s.engine = extraction.NewEngine(nil)
	}
	if s.locker == nil {
		s.locker = state.NewLocalLocker()
	}
	if s.publisher == nil {
		s.publisher = noopPublisher{}
	}
	if cfg.DefaultLimits != nil {
		if err := cfg.DefaultLimits.Validate(); err != nil {
			return nil, fmt.Errorf("invalid default risk limits: %w", err)
		}
		s.defaultLimits = *cfg.DefaultLimits
	}
	return s, nil
}

// Store returns the service's persistence layer.
func (s *Service) Store() state.Store {
	return s.store
}

// Engine returns the extraction engine.
func (s *Service) Engine() *extraction.Engine {
	return s.engine
}

func (s *Service) now() int64 {
	return s.engine.Clock().Now()
}

func (s *Service) publish(eventType EventType, manager types.ID, payload any) {
	s.publisher.Publish(Event{Type: eventType, Manager: manager, At: time.Unix(s.now(), 0).UTC(), Payload: payload})
}

// withPortfolio runs fn on a working copy of the portfolio under its lock and commits the result.
func (s *Service) withPortfolio(ctx context.Context, operation string, manager types.ID, fn func(ws *workingSet) error) error {
	unlock, err := s.locker.Lock(ctx, manager.String())
	if err != nil {
		return err
	}
	defer unlock()

	ws, err := s.loadWorkingSet(ctx, manager)
	if err == nil {
		err = fn(ws)
	}
	if err == nil {
		err = s.store.Commit(ctx, ws.snapshot())
	}
	if err != nil {
		metrics.OperationErrors.WithLabelValues(operation).Inc()
		serviceLogger.Warn().Err(err).Str("operation", operation).Str("manager", manager.String()).Msg("Operation rejected")
		return err
	}

	for status, n := range ws.statusCounts() {
		metrics.Strategies.WithLabelValues(manager.String(), string(status)).Set(float64(n))
	}
	return nil
}

// InitializePortfolio creates a portfolio for manager.
func (s *Service) InitializePortfolio(ctx context.Context, manager types.ID, rebalanceThreshold uint8, minInterval int64) (types.Portfolio, error) {
	if manager.IsZero() {
		return types.Portfolio{}, types.ErrInvalidManager
	}
	if err := types.ValidateRebalanceThreshold(rebalanceThreshold); err != nil {
		return types.Portfolio{}, err
	}
	if err := types.ValidateMinInterval(minInterval); err != nil {
		return types.Portfolio{}, err
	}

	now := s.now()
	portfolio := types.Portfolio{
		Manager:              manager,
		RebalanceThreshold:   rebalanceThreshold,
		LastRebalance:        now,
		MinRebalanceInterval: minInterval,
		PortfolioCreation:    now,
		PerformanceFeeBps:    types.DefaultPerformanceFeeBps,
	}
	if err := s.store.CreatePortfolio(ctx, portfolio); err != nil {
		return types.Portfolio{}, err
	}

	serviceLogger.Info().
		Str("manager", manager.String()).
		Uint8("threshold", rebalanceThreshold).
		Int64("min_interval", minInterval).
		Msg("Portfolio initialized")
	s.publish(EventPortfolioInitialized, manager, portfolio)
	return portfolio, nil
}

// newPosition builds the capital position a freshly registered strategy starts with.
// Liquidity pairs are split evenly between both tokens and fully controlled by the platform.
func newPosition(id types.ID, protocol types.ProtocolType, balance uint64, now int64) types.CapitalPosition {
	p := types.CapitalPosition{
		StrategyID:    id,
		PositionType:  protocol.PositionType(),
		TokenAAmount:  balance,
		EntryPriceA:   extraction.PriceScale,
		EntryPriceB:   extraction.PriceScale,
		LastRebalance: now,
	}
	if p.PositionType == types.PositionLiquidityPair {
		p.TokenAAmount = balance / 2
		p.TokenBAmount = balance - p.TokenAAmount
		p.LPTokens = balance
		p.PlatformControlledLP = balance
	}
	return p
}

// RegisterStrategy adds a strategy to the portfolio and opens its capital position.
func (s *Service) RegisterStrategy(ctx context.Context, manager, strategyID types.ID, protocol types.ProtocolType, initialBalance uint64) (types.Strategy, error) {
	var registered types.Strategy
	err := s.withPortfolio(ctx, "register_strategy", manager, func(ws *workingSet) error {
		if ws.portfolio.EmergencyPause {
			return types.ErrEmergencyPaused
		}
		if strategyID.IsZero() {
			return types.ErrInvalidStrategyID
		}
		if initialBalance == 0 {
			return fmt.Errorf("%w: initial balance must be positive", types.ErrInsufficientBalance)
		}
		if err := types.ValidateBalanceUpdate(initialBalance); err != nil {
			return err
		}
		if err := protocol.Validate(); err != nil {
			return err
		}
		if err := protocol.ValidateBalanceConstraints(initialBalance); err != nil {
			return err
		}
		if _, exists := ws.strategy(strategyID); exists {
			return fmt.Errorf("%w: %s already registered", types.ErrDuplicateStrategy, strategyID)
		}
		if ws.portfolio.TotalStrategies == ^uint32(0) {
			return fmt.Errorf("%w: strategy counter", types.ErrBalanceOverflow)
		}

		now := s.now()
		registered = types.Strategy{
			StrategyID:      strategyID,
			Protocol:        protocol.Clone(),
			CurrentBalance:  initialBalance,
			VolatilityScore: types.DefaultVolatilityScore,
			PercentileRank:  types.DefaultPercentileRank,
			LastUpdated:     now,
			Status:          types.StrategyActive,
			TotalDeposits:   initialBalance,
			CreationTime:    now,
		}
		position := newPosition(strategyID, protocol, initialBalance, now)

		ws.portfolio.TotalStrategies++
		ws.index[strategyID] = len(ws.strategies)
		ws.strategies = append(ws.strategies, registered)
		ws.positions[strategyID] = &position
		ws.touched[strategyID] = true
		return nil
	})
	if err != nil {
		return types.Strategy{}, err
	}

	serviceLogger.Info().
		Str("manager", manager.String()).
		Str("strategyID", strategyID.String()).
		Str("protocol", protocol.Name()).
		Uint64("balance", initialBalance).
		Msg("Strategy registered")
	s.publish(EventStrategyRegistered, manager, registered)
	return registered, nil
}

// UpdatePerformance records fresh metrics for an Active strategy and recomputes its score.
func (s *Service) UpdatePerformance(ctx context.Context, manager, strategyID types.ID, yieldRate uint64, volatility uint32, balance uint64) (types.Strategy, error) {
	if err := types.ValidateYieldRate(yieldRate); err != nil {
		return types.Strategy{}, err
	}
	if err := types.ValidateVolatilityScore(volatility); err != nil {
		return types.Strategy{}, err
	}
	if err := types.ValidateBalanceUpdate(balance); err != nil {
		return types.Strategy{}, err
	}

	var updated types.Strategy
	err := s.withPortfolio(ctx, "update_performance", manager, func(ws *workingSet) error {
		st, ok := ws.strategy(strategyID)
		if !ok {
			return fmt.Errorf("%w: %s", types.ErrStrategyNotFound, strategyID)
		}
		if !st.IsActive() {
			return fmt.Errorf("%w: strategy %s is %s", types.ErrStrategyNotFound, strategyID, st.Status)
		}
		score, err := analyzer.CalculatePerformanceScore(yieldRate, balance, volatility)
		if err != nil {
			return err
		}

		st.YieldRateBps = yieldRate
		st.VolatilityScore = volatility
		st.CurrentBalance = balance
		st.PerformanceScore = score
		st.LastUpdated = s.now()
		ws.touched[strategyID] = true
		updated = *st
		return nil
	})
	if err != nil {
		return types.Strategy{}, err
	}

	metrics.PerformanceScore.Observe(float64(updated.PerformanceScore))
	serviceLogger.Info().
		Str("strategyID", strategyID.String()).
		Uint64("yield_bps", yieldRate).
		Uint32("volatility", volatility).
		Uint64("balance", balance).
		Uint64("score", updated.PerformanceScore).
		Msg("Performance updated")
	s.publish(EventPerformanceUpdated, manager, updated)
	return updated, nil
}

// SetStrategyStatus moves a strategy between Active, Paused and Deprecated.
func (s *Service) SetStrategyStatus(ctx context.Context, manager, strategyID types.ID, status types.StrategyStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", types.ErrStrategyNotFound, status)
	}
	err := s.withPortfolio(ctx, "set_strategy_status", manager, func(ws *workingSet) error {
		st, ok := ws.strategy(strategyID)
		if !ok {
			return fmt.Errorf("%w: %s", types.ErrStrategyNotFound, strategyID)
		}
		st.Status = status
		st.LastUpdated = s.now()
		ws.touched[strategyID] = true
		return nil
	})
	if err != nil {
		return err
	}
	serviceLogger.Info().Str("strategyID", strategyID.String()).Str("status", string(status)).Msg("Strategy status changed")
	s.publish(EventStatusChanged, manager, map[string]string{"strategy_id": strategyID.String(), "status": string(status)})
	return nil
}

// SetEmergencyPause toggles the portfolio's emergency pause.
func (s *Service) SetEmergencyPause(ctx context.Context, manager types.ID, paused bool) error {
	err := s.withPortfolio(ctx, "set_emergency_pause", manager, func(ws *workingSet) error {
		ws.portfolio.EmergencyPause = paused
		return nil
	})
	if err != nil {
		return err
	}
	serviceLogger.Warn().Str("manager", manager.String()).Bool("paused", paused).Msg("Emergency pause changed")
	s.publish(EventEmergencyPause, manager, map[string]bool{"paused": paused})
	return nil
}

// SetRiskLimits stores the allocation limits used by future cycles of the portfolio.
func (s *Service) SetRiskLimits(ctx context.Context, manager types.ID, limits types.RiskLimits) error {
	if err := limits.Validate(); err != nil {
		return err
	}
	unlock, err := s.locker.Lock(ctx, manager.String())
	if err != nil {
		return err
	}
	defer unlock()
	return s.store.SaveRiskLimits(ctx, manager, limits)
}

// RiskLimits returns the portfolio's stored limits, or the service defaults.
func (s *Service) RiskLimits(ctx context.Context, manager types.ID) (types.RiskLimits, error) {
	limits, ok, err := s.store.LoadRiskLimits(ctx, manager)
	if err != nil {
		return types.RiskLimits{}, err
	}
	if !ok {
		return s.defaultLimits, nil
	}
	return limits, nil
}

// ExecuteRankingCycle reassigns percentile ranks across the Active strategies.
func (s *Service) ExecuteRankingCycle(ctx context.Context, manager types.ID) ([]types.Strategy, error) {
	var ranked []types.Strategy
	err := s.withPortfolio(ctx, "execute_ranking_cycle", manager, func(ws *workingSet) error {
		var err error
		ranked, err = s.rank(ws)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(EventRankingCompleted, manager, ranked)
	return ranked, nil
}

func (s *Service) rank(ws *workingSet) ([]types.Strategy, error) {
	if ws.portfolio.EmergencyPause {
		return nil, types.ErrEmergencyPaused
	}
	now := s.now()
	if !ws.portfolio.CanRebalance(now) {
		return nil, errors.Join(types.ErrRebalanceTooSoon,
			fmt.Errorf("%w: next rebalance at %d, now %d", types.ErrInvalidRebalanceInterval, ws.portfolio.NextRebalanceAt(), now))
	}

	active := make([]*types.Strategy, 0, len(ws.strategies))
	for i := range ws.strategies {
		if ws.strategies[i].IsActive() {
			active = append(active, &ws.strategies[i])
			ws.touched[ws.strategies[i].StrategyID] = true
		}
	}
	analyzer.AssignPercentileRanks(active)
	ws.portfolio.LastRebalance = now
	metrics.RankingCycles.Inc()

	ranked := make([]types.Strategy, 0, len(active))
	for _, st := range active {
		ranked = append(ranked, st.Clone())
	}
	serviceLogger.Info().
		Str("manager", ws.portfolio.Manager.String()).
		Int("ranked", len(active)).
		Uint32("total_strategies", ws.portfolio.TotalStrategies).
		Int64("timestamp", now).
		Msg("Ranking cycle executed")
	return ranked, nil
}

// PreviewPlan computes the plan the next cycle would execute without changing anything.
// Strategies are used with their currently stored ranks.
func (s *Service) PreviewPlan(ctx context.Context, manager types.ID) (*types.RebalancingPlan, error) {
	ws, err := s.loadWorkingSet(ctx, manager)
	if err != nil {
		return nil, err
	}
	limits, err := s.RiskLimits(ctx, manager)
	if err != nil {
		return nil, err
	}
	return PlanRebalance(ws.portfolio, ws.activePerformanceData(), limits)
}

// CheckWithdrawalFeasibility validates a prospective withdrawal from a strategy's position.
func (s *Service) CheckWithdrawalFeasibility(ctx context.Context, manager, strategyID types.ID, amount uint64) error {
	st, err := s.store.GetStrategy(ctx, manager, strategyID)
	if err != nil {
		return err
	}
	position, err := s.store.GetPosition(ctx, manager, strategyID)
	if err != nil {
		return err
	}
	return extraction.ValidateWithdrawalFeasibility(&position, amount, st.Protocol)
}

// ImpermanentLoss reports the current impermanent loss of a strategy's position in millionths.
func (s *Service) ImpermanentLoss(ctx context.Context, manager, strategyID types.ID, priceA, priceB uint64, priceTimestamp int64) (int64, error) {
	position, err := s.store.GetPosition(ctx, manager, strategyID)
	if err != nil {
		return 0, err
	}
	return s.engine.CurrentImpermanentLoss(&position, priceA, priceB, priceTimestamp)
}

// QuoteLPWithdrawal returns the token amounts burning lpTokens of the strategy's position would release.
func (s *Service) QuoteLPWithdrawal(ctx context.Context, manager, strategyID types.ID, reserveA, reserveB, totalSupply, lpTokens uint64) (uint64, uint64, error) {
	position, err := s.store.GetPosition(ctx, manager, strategyID)
	if err != nil {
		return 0, 0, err
	}
	return extraction.CalculateLPWithdrawalAmounts(&position, reserveA, reserveB, totalSupply, lpTokens)
}

func checkedMove(portfolio *types.Portfolio, amount uint64) error {
	moved, err := fixedpoint.CheckedAdd(portfolio.TotalCapitalMoved, amount)
	if err != nil {
		return errors.Join(types.ErrBalanceOverflow, err)
	}
	portfolio.TotalCapitalMoved = moved
	return nil
}
