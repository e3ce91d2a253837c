/*

This file manages the persistent per-portfolio cycle counter.
The counter is stored in the database to ensure continuity across restarts.

*/

package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/elys-network/rebalancer/internal/types"
)

// GetCurrentCycleNumber retrieves the current cycle number of a portfolio; 0 before the first cycle.
func (s *PostgresStore) GetCurrentCycleNumber(ctx context.Context, manager types.ID) (int, error) {
	query := `SELECT current_cycle FROM cycle_counter WHERE manager = $1;`

	var currentCycle int
	err := s.db.QueryRowContext(ctx, query, manager.String()).Scan(&currentCycle)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get current cycle number: %w", err)
	}

	stateLogger.Debug().Str("manager", manager.String()).Int("currentCycle", currentCycle).Msg("Retrieved current cycle number")
	return currentCycle, nil
}

// IncrementCycleNumber increments the cycle counter and returns the new value
func (s *PostgresStore) IncrementCycleNumber(ctx context.Context, manager types.ID) (int, error) {
	query := `
		INSERT INTO cycle_counter (manager, current_cycle)
		VALUES ($1, 1)
		ON CONFLICT (manager) DO UPDATE
		SET current_cycle = cycle_counter.current_cycle + 1,
		    updated_at = CURRENT_TIMESTAMP
		RETURNING current_cycle;`

	var newCycle int
	if err := s.db.QueryRowContext(ctx, query, manager.String()).Scan(&newCycle); err != nil {
		return 0, fmt.Errorf("failed to increment cycle number: %w", err)
	}

	stateLogger.Info().Str("manager", manager.String()).Int("newCycle", newCycle).Msg("Incremented cycle counter")
	return newCycle, nil
}

// ResetCycleNumber resets the cycle counter to a specific value (for testing/maintenance)
func (s *PostgresStore) ResetCycleNumber(ctx context.Context, manager types.ID, cycleNumber int) error {
	if cycleNumber < 0 {
		return fmt.Errorf("cycle number cannot be negative: %d", cycleNumber)
	}

	query := `
		INSERT INTO cycle_counter (manager, current_cycle)
		VALUES ($1, $2)
		ON CONFLICT (manager) DO UPDATE
		SET current_cycle = EXCLUDED.current_cycle,
		    updated_at = CURRENT_TIMESTAMP;`

	if _, err := s.db.ExecContext(ctx, query, manager.String(), cycleNumber); err != nil {
		return fmt.Errorf("failed to reset cycle number to %d: %w", cycleNumber, err)
	}

	stateLogger.Warn().Str("manager", manager.String()).Int("cycleNumber", cycleNumber).Msg("Reset cycle counter")
	return nil
}
