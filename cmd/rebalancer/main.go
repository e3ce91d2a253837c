package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/elys-network/rebalancer/internal/config"
	"github.com/elys-network/rebalancer/internal/extraction"
	"github.com/elys-network/rebalancer/internal/logger"
	"github.com/elys-network/rebalancer/internal/rebalancer"
	"github.com/elys-network/rebalancer/internal/state"
	"github.com/elys-network/rebalancer/internal/types"
	"github.com/elys-network/rebalancer/internal/web"
)

// main is the entry point for the rebalancer.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		w, err := logger.FileWriter(logFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", logFile).Msg("Failed to open log file")
		}
		logger.SetOutput(w)
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log.Info().Msg("Rebalancer Starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- 2. Persistence and locking ---
	store, err := openStore(ctx)
	if err != nil {
		log.Fatal().Err(err).Str("backend", config.StoreBackend).Msg("Failed to initialize store")
	}
	defer store.Close()

	var locker state.Locker
	if config.RedisEnabled {
		client, err := state.NewRedisClient(ctx, config.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		defer client.Close()
		locker = state.NewRedisLocker(client, "rebalancer", config.RedisLockTTL)
		log.Info().Str("host", config.Redis.Host).Msg("Using redis portfolio locks")
	}

	// --- 3. Risk limits ---
	defaultLimits := config.DefaultRiskLimits
	if config.RiskProfilePath != "" {
		if defaultLimits, err = config.LoadRiskProfile(config.RiskProfilePath); err != nil {
			log.Fatal().Err(err).Msg("Failed to load risk profile")
		}
	}

	// --- 4. Service with dependency injection ---
	events := web.NewEventHub()
	service, err := rebalancer.NewService(rebalancer.Config{
		Store:         store,
		Engine:        extraction.NewEngine(extraction.SystemClock{}),
		Locker:        locker,
		Publisher:     events,
		DefaultLimits: &defaultLimits,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create rebalancer service")
	}

	_, err = service.InitializePortfolio(ctx, config.Manager, config.RebalanceThreshold, config.MinRebalanceInterval)
	switch {
	case errors.Is(err, types.ErrPortfolioExists):
		log.Info().Str("manager", config.Manager.String()).Msg("Portfolio already initialized")
	case err != nil:
		log.Fatal().Err(err).Msg("Failed to initialize portfolio")
	}
	if config.RiskProfilePath != "" {
		if err := service.SetRiskLimits(ctx, config.Manager, defaultLimits); err != nil {
			log.Fatal().Err(err).Msg("Failed to store risk profile")
		}
	}

	// --- 5. Start Web Server ---
	webServer, err := web.NewWebServer(config.WebPort, service, events)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create web server")
	}
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting rebalancer API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed")
			stop()
		}
	}()

	// --- 6. Main Loop ---
	service.RunLoop(ctx, config.LoopInterval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Web server shutdown failed")
	}
	log.Info().Msg("Rebalancer stopped")
}

func openStore(ctx context.Context) (state.Store, error) {
	if config.StoreBackend != config.StorePostgres {
		log.Warn().Msg("Using the in-memory store; state is lost on restart")
		return state.NewMemoryStore(), nil
	}

	db, err := state.OpenDB(ctx, config.Database)
	if err != nil {
		return nil, err
	}
	store := state.NewPostgresStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
