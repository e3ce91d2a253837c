// ./internal/state/risk_limits_store.go
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/elys-network/rebalancer/internal/types"
)

// SaveRiskLimits stores a new version of the portfolio's risk limits and makes it the active one.
func (s *PostgresStore) SaveRiskLimits(ctx context.Context, manager types.ID, limits types.RiskLimits) error {
	if err := limits.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	var version int
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM risk_limits WHERE manager = $1;`, manager.String()).Scan(&version)
	if err != nil {
		return fmt.Errorf("failed to determine next risk limits version: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE risk_limits SET is_active = FALSE WHERE manager = $1 AND is_active = TRUE;`, manager.String()); err != nil {
		return fmt.Errorf("failed to deactivate existing risk limits for %s: %w", manager, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO risk_limits (
			manager, version, is_active,
			max_single_strategy_bps, min_single_strategy_bps, platform_fee_bps, manager_fee_bps, risk_tolerance_bps,
			platform_treasury, manager_treasury
		) VALUES ($1, $2, TRUE, $3, $4, $5, $6, $7, $8, $9);`,
		manager.String(), version,
		limits.MaxSingleStrategyBps, limits.MinSingleStrategyBps, limits.PlatformFeeBps, limits.ManagerFeeBps, limits.RiskToleranceBps,
		limits.PlatformTreasury.String(), limits.ManagerTreasury.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert risk limits: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	stateLogger.Info().
		Str("manager", manager.String()).
		Int("version", version).
		Msg("Saved risk limits")
	return nil
}

// LoadRiskLimits loads the currently active risk limits of a portfolio.
func (s *PostgresStore) LoadRiskLimits(ctx context.Context, manager types.ID) (types.RiskLimits, bool, error) {
	query := `
		SELECT max_single_strategy_bps, min_single_strategy_bps, platform_fee_bps, manager_fee_bps, risk_tolerance_bps,
			platform_treasury, manager_treasury
		FROM risk_limits
		WHERE manager = $1 AND is_active = TRUE
		ORDER BY activated_at DESC
		LIMIT 1;`

	var limits types.RiskLimits
	err := s.db.QueryRowContext(ctx, query, manager.String()).Scan(
		&limits.MaxSingleStrategyBps, &limits.MinSingleStrategyBps, &limits.PlatformFeeBps, &limits.ManagerFeeBps,
		&limits.RiskToleranceBps, idColumn{&limits.PlatformTreasury}, idColumn{&limits.ManagerTreasury},
	)
	if errors.Is(err, sql.ErrNoRows) {
		return types.RiskLimits{}, false, nil
	}
	if err != nil {
		return types.RiskLimits{}, false, fmt.Errorf("failed to load risk limits for %s: %w", manager, err)
	}
	return limits, true, nil
}
