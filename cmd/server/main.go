// Package main is the entry point for the arena gateway.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"astra-arena/internal/channel"
	"astra-arena/internal/config"
	"astra-arena/internal/game"
	"astra-arena/internal/game/rps"
	"astra-arena/internal/gateway"
	"astra-arena/internal/identity"
	"astra-arena/internal/pkg/db"
	"astra-arena/internal/pkg/lock"
	"astra-arena/internal/queue"
	"astra-arena/internal/repository"
	"astra-arena/internal/service"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := runMigrations(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize repositories
	queueRepo := repository.NewQueueRepository(dbPool.Pool)
	matchRepo := repository.NewMatchRepository(dbPool.Pool)
	resultRepo := repository.NewResultRepository(dbPool.Pool)
	statsRepo := repository.NewStatsRepository(dbPool.Pool)

	// Start the notification listener feeding pairing observers
	listener := repository.NewListener(dbPool.Pool)
	go func() {
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Notification listener stopped")
		}
	}()

	// Initialize game registry and register games
	gameRegistry := game.NewRegistry()
	if err := gameRegistry.Register(rps.Descriptor(), rps.NewEngine); err != nil {
		log.Fatal().Err(err).Msg("Failed to register rps game")
	}

	log.Info().
		Int("game_count", gameRegistry.Count()).
		Strs("games", gameRegistry.IDs()).
		Msg("Games registered")

	// Initialize services
	queueService := queue.NewService(queueRepo, matchRepo, listener)
	matchHub := channel.NewHub()
	recorder := service.NewRecorder(resultRepo, matchRepo, statsRepo, cfg.Game.FeeFraction)
	clientLock := lock.NewClientLock()
	issuer := identity.NewIssuer(cfg.Identity.Scope)

	// Build the gateway and HTTP server
	gw := gateway.New(cfg, issuer, queueService, matchHub, gameRegistry, recorder, clientLock, statsRepo, dbPool)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: gw.Routes(),
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("Gateway is starting...")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for shutdown signal
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Forced server shutdown")
	}
	log.Info().Msg("Gateway stopped gracefully")
}

// runMigrations executes database migrations.
func runMigrations(ctx context.Context, pool *db.Pool) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: Create queue table
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS queue (
			id UUID PRIMARY KEY,
			client_id UUID NOT NULL,
			game_id VARCHAR(50) NOT NULL,
			buy_in DOUBLE PRECISION NOT NULL,
			status VARCHAR(20) NOT NULL,
			match_id UUID,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_queue_bucket
			ON queue(game_id, buy_in, status, created_at);
		CREATE INDEX IF NOT EXISTS idx_queue_client
			ON queue(client_id, status);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 1: queue table created")

	// Migration 2: Create matches and match_participants tables
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS matches (
			id UUID PRIMARY KEY,
			game_id VARCHAR(50) NOT NULL,
			buy_in DOUBLE PRECISION NOT NULL,
			host_id UUID NOT NULL,
			guest_id UUID NOT NULL,
			status VARCHAR(20) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS match_participants (
			match_id UUID NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
			client_id UUID NOT NULL,
			role VARCHAR(10) NOT NULL,
			PRIMARY KEY (match_id, client_id)
		);
		CREATE INDEX IF NOT EXISTS idx_participants_client
			ON match_participants(client_id);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 2: matches tables created")

	// Migration 3: Create results table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS results (
			match_id UUID PRIMARY KEY,
			outcome VARCHAR(20) NOT NULL,
			winner_client_id UUID,
			loser_client_id UUID,
			score_winner INT NOT NULL,
			score_loser INT NOT NULL,
			pot DOUBLE PRECISION NOT NULL,
			fee DOUBLE PRECISION NOT NULL,
			winner_payout DOUBLE PRECISION NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 3: results table created")

	// Migration 4: Create profiles and wallet_stats tables
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS profiles (
			client_id UUID PRIMARY KEY,
			wallet_id VARCHAR(255),
			display_name VARCHAR(255),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_profiles_wallet ON profiles(wallet_id);
		CREATE TABLE IF NOT EXISTS wallet_stats (
			wallet_id VARCHAR(255) PRIMARY KEY,
			games INT NOT NULL DEFAULT 0,
			wins INT NOT NULL DEFAULT 0,
			losses INT NOT NULL DEFAULT 0,
			draws INT NOT NULL DEFAULT 0,
			total_wagered DOUBLE PRECISION NOT NULL DEFAULT 0,
			profit DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_played TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 4: profiles and wallet_stats tables created")

	log.Info().Msg("All migrations completed successfully")
	return nil
}
