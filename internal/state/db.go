// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/elys-network/rebalancer/internal/logger"
	"github.com/elys-network/rebalancer/internal/types"
)

var stateLogger = logger.GetForComponent("state")

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// DSN renders the lib/pq connection string.
func (cfg DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
}

// OpenDB opens and pings a PostgreSQL connection pool.
func OpenDB(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	stateLogger.Info().Str("host", cfg.Host).Str("db", cfg.DBName).Msg("Successfully connected to the PostgreSQL database!")
	return db, nil
}

// PostgresStore is the Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// DB exposes the underlying pool for maintenance scripts.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	stateLogger.Info().Msg("Closing database connection...")
	return s.db.Close()
}

// Ping tests if the database connection is healthy
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Unsigned 64-bit amounts are stored as NUMERIC(20,0) since BIGINT is signed.
const schemaSQL = `
	CREATE TABLE IF NOT EXISTS portfolios (
		manager TEXT PRIMARY KEY,
		rebalance_threshold SMALLINT NOT NULL,
		total_strategies BIGINT NOT NULL DEFAULT 0,
		total_capital_moved NUMERIC(20, 0) NOT NULL DEFAULT 0,
		last_rebalance BIGINT NOT NULL,
		min_rebalance_interval BIGINT NOT NULL,
		portfolio_creation BIGINT NOT NULL,
		emergency_pause BOOLEAN NOT NULL DEFAULT FALSE,
		performance_fee_bps INTEGER NOT NULL,
		created_seq BIGSERIAL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS strategies (
		manager TEXT NOT NULL REFERENCES portfolios(manager) ON DELETE CASCADE,
		strategy_id TEXT NOT NULL,
		protocol JSONB NOT NULL,
		current_balance NUMERIC(20, 0) NOT NULL,
		yield_rate_bps NUMERIC(20, 0) NOT NULL,
		volatility_score BIGINT NOT NULL,
		performance_score NUMERIC(20, 0) NOT NULL,
		percentile_rank SMALLINT NOT NULL,
		last_updated BIGINT NOT NULL,
		status VARCHAR(20) NOT NULL,
		total_deposits NUMERIC(20, 0) NOT NULL,
		total_withdrawals NUMERIC(20, 0) NOT NULL,
		creation_time BIGINT NOT NULL,
		created_seq BIGSERIAL,
		PRIMARY KEY (manager, strategy_id)
	);
	CREATE INDEX IF NOT EXISTS idx_strategies_manager_seq ON strategies(manager, created_seq);

	CREATE TABLE IF NOT EXISTS capital_positions (
		manager TEXT NOT NULL,
		strategy_id TEXT NOT NULL,
		token_a_amount NUMERIC(20, 0) NOT NULL,
		token_b_amount NUMERIC(20, 0) NOT NULL,
		lp_tokens NUMERIC(20, 0) NOT NULL,
		platform_controlled_lp NUMERIC(20, 0) NOT NULL,
		position_type VARCHAR(20) NOT NULL,
		entry_price_a NUMERIC(20, 0) NOT NULL,
		entry_price_b NUMERIC(20, 0) NOT NULL,
		last_rebalance BIGINT NOT NULL,
		accrued_fees NUMERIC(20, 0) NOT NULL,
		impermanent_loss BIGINT NOT NULL,
		PRIMARY KEY (manager, strategy_id),
		FOREIGN KEY (manager, strategy_id) REFERENCES strategies(manager, strategy_id) ON DELETE CASCADE,
		CONSTRAINT platform_lp_within_lp CHECK (platform_controlled_lp <= lp_tokens)
	);

	CREATE TABLE IF NOT EXISTS cycle_reports (
		plan_id UUID PRIMARY KEY,
		manager TEXT NOT NULL REFERENCES portfolios(manager) ON DELETE CASCADE,
		cycle_number INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL,
		extraction_targets TEXT[],
		total_to_extract NUMERIC(20, 0) NOT NULL,
		redistribution_plan JSONB,
		extractions JSONB,
		estimated_fees NUMERIC(20, 0) NOT NULL,
		expected_improvement NUMERIC(20, 0) NOT NULL,
		total_extracted NUMERIC(20, 0) NOT NULL,
		total_redistributed NUMERIC(20, 0) NOT NULL,
		total_fees_paid NUMERIC(20, 0) NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cycle_reports_manager_completed ON cycle_reports(manager, completed_at DESC);

	CREATE TABLE IF NOT EXISTS cycle_counter (
		manager TEXT PRIMARY KEY REFERENCES portfolios(manager) ON DELETE CASCADE,
		current_cycle INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS risk_limits (
		limits_id SERIAL PRIMARY KEY,
		manager TEXT NOT NULL REFERENCES portfolios(manager) ON DELETE CASCADE,
		version INTEGER NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		max_single_strategy_bps INTEGER NOT NULL,
		min_single_strategy_bps INTEGER NOT NULL,
		platform_fee_bps INTEGER NOT NULL,
		manager_fee_bps INTEGER NOT NULL,
		risk_tolerance_bps INTEGER NOT NULL,
		platform_treasury TEXT NOT NULL,
		manager_treasury TEXT NOT NULL,
		CONSTRAINT uq_risk_limits_manager_version UNIQUE (manager, version)
	);
	CREATE INDEX IF NOT EXISTS idx_risk_limits_manager_active ON risk_limits(manager, is_active, activated_at DESC);
`

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	stateLogger.Info().Msg("Database schema ensured.")
	return nil
}

// DropSchema removes every rebalancer table. Used by the reset script.
func (s *PostgresStore) DropSchema(ctx context.Context) error {
	const dropSQL = `
		DROP TABLE IF EXISTS risk_limits CASCADE;
		DROP TABLE IF EXISTS cycle_counter CASCADE;
		DROP TABLE IF EXISTS cycle_reports CASCADE;
		DROP TABLE IF EXISTS capital_positions CASCADE;
		DROP TABLE IF EXISTS strategies CASCADE;
		DROP TABLE IF EXISTS portfolios CASCADE;
	`
	if _, err := s.db.ExecContext(ctx, dropSQL); err != nil {
		return fmt.Errorf("failed to drop schema: %w", err)
	}
	stateLogger.Warn().Msg("Dropped rebalancer schema")
	return nil
}

// numeric scans a NUMERIC(20,0) column into a uint64.
type numeric struct {
	dst *uint64
}

func (n numeric) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*n.dst = 0
		return nil
	case int64:
		if v < 0 {
			return fmt.Errorf("negative value %d for unsigned column", v)
		}
		*n.dst = uint64(v)
		return nil
	case []byte:
		raw = string(v)
	case string:
		raw = v
	default:
		return fmt.Errorf("unsupported numeric source %T", src)
	}
	parsed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid unsigned numeric %q: %w", raw, err)
	}
	*n.dst = parsed
	return nil
}

func numericArg(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// idColumn scans a base58 TEXT column into a types.ID.
type idColumn struct {
	dst *types.ID
}

func (c idColumn) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case []byte:
		raw = string(v)
	case string:
		raw = v
	default:
		return fmt.Errorf("unsupported id source %T", src)
	}
	id, err := types.ParseID(raw)
	if err != nil {
		return err
	}
	*c.dst = id
	return nil
}

// rollback is deferred by every transaction; it is a no-op after a successful commit.
func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		stateLogger.Error().Err(err).Msg("Failed to roll back transaction")
	}
}
