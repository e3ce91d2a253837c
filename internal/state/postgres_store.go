package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/elys-network/rebalancer/internal/types"
)

const portfolioColumns = `manager, rebalance_threshold, total_strategies, total_capital_moved, last_rebalance,
	min_rebalance_interval, portfolio_creation, emergency_pause, performance_fee_bps`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPortfolio(row rowScanner) (types.Portfolio, error) {
	var p types.Portfolio
	err := row.Scan(
		idColumn{&p.Manager}, &p.RebalanceThreshold, &p.TotalStrategies, numeric{&p.TotalCapitalMoved}, &p.LastRebalance,
		&p.MinRebalanceInterval, &p.PortfolioCreation, &p.EmergencyPause, &p.PerformanceFeeBps,
	)
	return p, err
}

func (s *PostgresStore) CreatePortfolio(ctx context.Context, p types.Portfolio) error {
	query := `
		INSERT INTO portfolios (` + portfolioColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (manager) DO NOTHING;`

	result, err := s.db.ExecContext(ctx, query,
		p.Manager.String(), p.RebalanceThreshold, p.TotalStrategies, numericArg(p.TotalCapitalMoved), p.LastRebalance,
		p.MinRebalanceInterval, p.PortfolioCreation, p.EmergencyPause, p.PerformanceFeeBps,
	)
	if err != nil {
		return fmt.Errorf("failed to insert portfolio: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", types.ErrPortfolioExists, p.Manager)
	}

	stateLogger.Info().Str("manager", p.Manager.String()).Msg("Portfolio saved to database")
	return nil
}

func (s *PostgresStore) GetPortfolio(ctx context.Context, manager types.ID) (types.Portfolio, error) {
	query := `SELECT ` + portfolioColumns + ` FROM portfolios WHERE manager = $1;`
	p, err := scanPortfolio(s.db.QueryRowContext(ctx, query, manager.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Portfolio{}, fmt.Errorf("%w: %s", types.ErrPortfolioNotFound, manager)
	}
	if err != nil {
		return types.Portfolio{}, fmt.Errorf("failed to load portfolio %s: %w", manager, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPortfolios(ctx context.Context) ([]types.Portfolio, error) {
	query := `SELECT ` + portfolioColumns + ` FROM portfolios ORDER BY created_seq;`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolios: %w", err)
	}
	defer rows.Close()

	var out []types.Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan portfolio row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

const strategyColumns = `strategy_id, protocol, current_balance, yield_rate_bps, volatility_score, performance_score,
	percentile_rank, last_updated, status, total_deposits, total_withdrawals, creation_time`

func scanStrategy(row rowScanner) (types.Strategy, error) {
	var st types.Strategy
	var protocolJSON []byte
	err := row.Scan(
		idColumn{&st.StrategyID}, &protocolJSON, numeric{&st.CurrentBalance}, numeric{&st.YieldRateBps}, &st.VolatilityScore,
		numeric{&st.PerformanceScore}, &st.PercentileRank, &st.LastUpdated, &st.Status,
		numeric{&st.TotalDeposits}, numeric{&st.TotalWithdrawals}, &st.CreationTime,
	)
	if err != nil {
		return types.Strategy{}, err
	}
	if err := json.Unmarshal(protocolJSON, &st.Protocol); err != nil {
		return types.Strategy{}, fmt.Errorf("failed to unmarshal protocol of %s: %w", st.StrategyID, err)
	}
	return st, nil
}

func (s *PostgresStore) GetStrategy(ctx context.Context, manager, strategyID types.ID) (types.Strategy, error) {
	query := `SELECT ` + strategyColumns + ` FROM strategies WHERE manager = $1 AND strategy_id = $2;`
	st, err := scanStrategy(s.db.QueryRowContext(ctx, query, manager.String(), strategyID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Strategy{}, fmt.Errorf("%w: %s", types.ErrStrategyNotFound, strategyID)
	}
	if err != nil {
		return types.Strategy{}, fmt.Errorf("failed to load strategy %s: %w", strategyID, err)
	}
	return st, nil
}

func (s *PostgresStore) ListStrategies(ctx context.Context, manager types.ID) ([]types.Strategy, error) {
	if _, err := s.GetPortfolio(ctx, manager); err != nil {
		return nil, err
	}

	query := `SELECT ` + strategyColumns + ` FROM strategies WHERE manager = $1 ORDER BY created_seq;`
	rows, err := s.db.QueryContext(ctx, query, manager.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query strategies: %w", err)
	}
	defer rows.Close()

	out := make([]types.Strategy, 0)
	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan strategy row: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, manager, strategyID types.ID) (types.CapitalPosition, error) {
	query := `
		SELECT strategy_id, token_a_amount, token_b_amount, lp_tokens, platform_controlled_lp, position_type,
			entry_price_a, entry_price_b, last_rebalance, accrued_fees, impermanent_loss
		FROM capital_positions WHERE manager = $1 AND strategy_id = $2;`

	var p types.CapitalPosition
	err := s.db.QueryRowContext(ctx, query, manager.String(), strategyID.String()).Scan(
		idColumn{&p.StrategyID}, numeric{&p.TokenAAmount}, numeric{&p.TokenBAmount}, numeric{&p.LPTokens},
		numeric{&p.PlatformControlledLP}, &p.PositionType, numeric{&p.EntryPriceA}, numeric{&p.EntryPriceB},
		&p.LastRebalance, numeric{&p.AccruedFees}, &p.ImpermanentLoss,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return types.CapitalPosition{}, fmt.Errorf("%w: no position for %s", types.ErrStrategyNotFound, strategyID)
	}
	if err != nil {
		return types.CapitalPosition{}, fmt.Errorf("failed to load position %s: %w", strategyID, err)
	}
	return p, nil
}

// Commit writes the snapshot in a single transaction.
func (s *PostgresStore) Commit(ctx context.Context, snapshot Snapshot) error {
	for _, p := range snapshot.Positions {
		if err := p.Validate(); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	p := snapshot.Portfolio
	result, err := tx.ExecContext(ctx, `
		UPDATE portfolios SET
			rebalance_threshold = $2, total_strategies = $3, total_capital_moved = $4, last_rebalance = $5,
			min_rebalance_interval = $6, emergency_pause = $7, performance_fee_bps = $8, updated_at = CURRENT_TIMESTAMP
		WHERE manager = $1;`,
		p.Manager.String(), p.RebalanceThreshold, p.TotalStrategies, numericArg(p.TotalCapitalMoved), p.LastRebalance,
		p.MinRebalanceInterval, p.EmergencyPause, p.PerformanceFeeBps,
	)
	if err != nil {
		return fmt.Errorf("failed to update portfolio: %w", err)
	}
	if rows, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	} else if rows == 0 {
		return fmt.Errorf("%w: %s", types.ErrPortfolioNotFound, p.Manager)
	}

	for _, st := range snapshot.Strategies {
		protocolJSON, err := json.Marshal(st.Protocol)
		if err != nil {
			return fmt.Errorf("failed to marshal protocol of %s: %w", st.StrategyID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO strategies (manager, `+strategyColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (manager, strategy_id) DO UPDATE SET
				protocol = EXCLUDED.protocol, current_balance = EXCLUDED.current_balance,
				yield_rate_bps = EXCLUDED.yield_rate_bps, volatility_score = EXCLUDED.volatility_score,
				performance_score = EXCLUDED.performance_score, percentile_rank = EXCLUDED.percentile_rank,
				last_updated = EXCLUDED.last_updated, status = EXCLUDED.status,
				total_deposits = EXCLUDED.total_deposits, total_withdrawals = EXCLUDED.total_withdrawals;`,
			p.Manager.String(), st.StrategyID.String(), protocolJSON, numericArg(st.CurrentBalance), numericArg(st.YieldRateBps),
			st.VolatilityScore, numericArg(st.PerformanceScore), st.PercentileRank, st.LastUpdated, st.Status,
			numericArg(st.TotalDeposits), numericArg(st.TotalWithdrawals), st.CreationTime,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert strategy %s: %w", st.StrategyID, err)
		}
	}

	for _, pos := range snapshot.Positions {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO capital_positions (
				manager, strategy_id, token_a_amount, token_b_amount, lp_tokens, platform_controlled_lp, position_type,
				entry_price_a, entry_price_b, last_rebalance, accrued_fees, impermanent_loss
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (manager, strategy_id) DO UPDATE SET
				token_a_amount = EXCLUDED.token_a_amount, token_b_amount = EXCLUDED.token_b_amount,
				lp_tokens = EXCLUDED.lp_tokens, platform_controlled_lp = EXCLUDED.platform_controlled_lp,
				position_type = EXCLUDED.position_type, entry_price_a = EXCLUDED.entry_price_a,
				entry_price_b = EXCLUDED.entry_price_b, last_rebalance = EXCLUDED.last_rebalance,
				accrued_fees = EXCLUDED.accrued_fees, impermanent_loss = EXCLUDED.impermanent_loss;`,
			p.Manager.String(), pos.StrategyID.String(), numericArg(pos.TokenAAmount), numericArg(pos.TokenBAmount),
			numericArg(pos.LPTokens), numericArg(pos.PlatformControlledLP), pos.PositionType,
			numericArg(pos.EntryPriceA), numericArg(pos.EntryPriceB), pos.LastRebalance, numericArg(pos.AccruedFees), pos.ImpermanentLoss,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert position %s: %w", pos.StrategyID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	stateLogger.Debug().
		Str("manager", p.Manager.String()).
		Int("strategies", len(snapshot.Strategies)).
		Int("positions", len(snapshot.Positions)).
		Msg("Committed portfolio snapshot")
	return nil
}
