package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agent-settlement-engine/config"
	"agent-settlement-engine/internal/adapter/compliance"
	pgEventlog "agent-settlement-engine/internal/adapter/eventlog/postgres"
	httpHandler "agent-settlement-engine/internal/adapter/http/handler"
	"agent-settlement-engine/internal/adapter/notification"
	redisStorage "agent-settlement-engine/internal/adapter/storage/redis"
	"agent-settlement-engine/internal/core/domain"
	"agent-settlement-engine/internal/core/ports"
	"agent-settlement-engine/internal/service"
	"agent-settlement-engine/internal/sweep"
	"agent-settlement-engine/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Agent Settlement Engine")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgEventlog.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Event log and supporting stores
	eventStore := pgEventlog.NewEventStore(pool)
	snapshotStore := redisStorage.NewSnapshotStore(rdb)
	expiryIndex := redisStorage.NewExpiryIndex(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Outbound adapters
	complianceChecker := compliance.NewRuleChecker(cfg.Compliance, log)
	notifier := notification.NewWebhookNotifier(
		cfg.Notify.URL,
		cfg.Notify.Secret,
		&http.Client{Timeout: cfg.Notify.Timeout},
		log,
	)

	// Core services
	wallets := service.NewWalletLedger(eventStore, snapshotStore, cfg.Snapshot.Every, log)
	escrows := service.NewEscrowEngine(eventStore, wallets, expiryIndex, notifier, log)
	reputation := service.NewReputationEngine(eventStore, domain.ReputationWeights{
		Success:  cfg.Reputation.SuccessWeight,
		Failure:  cfg.Reputation.FailureWeight,
		Dispute:  cfg.Reputation.DisputeWeight,
		Timeout:  cfg.Reputation.TimeoutWeight,
		MaxDelta: cfg.Reputation.MaxDelta,
	}, log)
	orchestrator := service.NewTransactionOrchestrator(service.OrchestratorParams{
		Events:     eventStore,
		Wallets:    wallets,
		Escrows:    escrows,
		Reputation: reputation,
		Compliance: complianceChecker,
		Notifier:   notifier,
		Fees: service.FeeSchedule{
			Rate:               cfg.Fees.Rate,
			MinFee:             cfg.Fees.MinFee,
			MaxFee:             cfg.Fees.MaxFee,
			ExemptionThreshold: cfg.Fees.ExemptionThreshold,
		},
		Collector: cfg.Fees.CollectorAgentID,
		Log:       log,
	})

	// Escrow expiry sweep
	sweeper := sweep.NewSweeper(expiryIndex, escrows, orchestrator, cfg.Sweep.Batch, log)
	if err := sweeper.Start(cfg.Sweep.Schedule); err != nil {
		log.Fatal().Err(err).Msg("Failed to start expiry sweep")
	}
	defer sweeper.Stop()

	// Initialize health checkers
	pgHealth := pgEventlog.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Wallets:        wallets,
		Escrows:        escrows,
		Orchestrator:   orchestrator,
		Reputation:     reputation,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
