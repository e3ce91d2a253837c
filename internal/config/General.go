package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/elys-network/rebalancer/internal/state"
	"github.com/elys-network/rebalancer/internal/types"
)

// Store backends
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// Manager is the portfolio the rebalancer bootstraps on start.
	Manager types.ID
	// RebalanceThreshold is the underperformer percentile cutoff used when the portfolio is created.
	RebalanceThreshold uint8
	// MinRebalanceInterval is the minimum number of seconds between ranking cycles.
	MinRebalanceInterval int64

	// LoopInterval is how often the main loop visits every portfolio.
	LoopInterval time.Duration
	// WebPort is the port of the inspection API.
	WebPort string
	// StoreBackend selects the persistence layer: "memory" or "postgres".
	StoreBackend string
	// RiskProfilePath optionally points to a risk profile file read with LoadRiskProfile.
	RiskProfilePath string

	// Database holds the PostgreSQL connection parameters.
	Database state.DBConfig

	// RedisEnabled switches portfolio locking from in-process to Redis.
	RedisEnabled bool
	// Redis holds the lock server connection parameters.
	Redis state.RedisOptions
	// RedisLockTTL bounds how long a crashed process can hold a portfolio lock.
	RedisLockTTL time.Duration
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// REBALANCER_MANAGER, REBALANCE_THRESHOLD and MIN_REBALANCE_INTERVAL are required; every other
// variable falls back to a default.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	managerStr, err := getEnv("REBALANCER_MANAGER")
	if err != nil {
		return err
	}
	if Manager, err = types.ParseID(managerStr); err != nil {
		return err
	}

	threshold, err := getEnvAsUint64("REBALANCE_THRESHOLD")
	if err != nil {
		return err
	}
	if threshold > uint64(types.MaxRebalanceThreshold) {
		return types.ErrInvalidRebalanceThreshold
	}
	RebalanceThreshold = uint8(threshold)
	if err := types.ValidateRebalanceThreshold(RebalanceThreshold); err != nil {
		return err
	}

	MinRebalanceInterval, err = getEnvAsInt64("MIN_REBALANCE_INTERVAL")
	if err != nil {
		return err
	}
	if err := types.ValidateMinInterval(MinRebalanceInterval); err != nil {
		return err
	}

	if LoopInterval, err = getEnvAsDuration("LOOP_INTERVAL", DefaultLoopInterval); err != nil {
		return err
	}
	WebPort = getEnvOrDefault("WEB_PORT", "8080")
	StoreBackend = strings.ToLower(getEnvOrDefault("STORE_BACKEND", StoreMemory))
	if StoreBackend != StoreMemory && StoreBackend != StorePostgres {
		return errors.New("environment variable STORE_BACKEND must be memory or postgres, got: " + StoreBackend)
	}
	RiskProfilePath = getEnvOrDefault("RISK_PROFILE_PATH", "")

	if err := loadDatabaseConfig(); err != nil {
		return err
	}
	if err := loadRedisConfig(); err != nil {
		return err
	}

	log.Debug().
		Str("Manager", Manager.String()).
		Uint8("RebalanceThreshold", RebalanceThreshold).
		Int64("MinRebalanceInterval", MinRebalanceInterval).
		Str("StoreBackend", StoreBackend).
		Bool("RedisEnabled", RedisEnabled).
		Msg("Configuration loaded successfully.")

	return nil
}

func loadDatabaseConfig() error {
	port, err := getEnvAsIntOrDefault("DB_PORT", 5432)
	if err != nil {
		return err
	}
	Database = state.DBConfig{
		Host:     getEnvOrDefault("DB_HOST", "localhost"),
		Port:     port,
		User:     getEnvOrDefault("DB_USER", ""),
		Password: getEnvOrDefault("DB_PASSWORD", ""),
		DBName:   getEnvOrDefault("DB_NAME", ""),
		SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
	}
	if StoreBackend == StorePostgres && (Database.User == "" || Database.DBName == "") {
		return errors.New("environment variables DB_USER and DB_NAME are required for the postgres store")
	}
	return nil
}

func loadRedisConfig() error {
	host := getEnvOrDefault("REDIS_HOST", "")
	RedisEnabled = host != ""
	db, err := getEnvAsIntOrDefault("REDIS_DB", 0)
	if err != nil {
		return err
	}
	Redis = state.RedisOptions{
		Host:     host,
		Port:     getEnvOrDefault("REDIS_PORT", "6379"),
		Password: getEnvOrDefault("REDIS_PASSWORD", ""),
		DB:       db,
	}
	RedisLockTTL, err = getEnvAsDuration("REDIS_LOCK_TTL", DefaultLockTTL)
	return err
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsInt64 retrieves an environment variable as an int64. Returns error if not set or invalid.
func getEnvAsInt64(key string) (int64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int64, got: " + valueStr)
	}
	return value, nil
}

func getEnvAsIntOrDefault(key string, defaultValue int) (int, error) {
	valueStr := getEnvOrDefault(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsDuration accepts Go duration strings ("90s", "10m").
func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := getEnvOrDefault(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil || value <= 0 {
		return 0, errors.New("environment variable " + key + " must be a positive duration, got: " + valueStr)
	}
	return value, nil
}
