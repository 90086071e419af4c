package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/tastemind/tastemind/internal/chain"
	"github.com/tastemind/tastemind/internal/db"
	"github.com/tastemind/tastemind/internal/events"
	"github.com/tastemind/tastemind/internal/rewards"
	"github.com/tastemind/tastemind/pkg/config"
	"github.com/tastemind/tastemind/pkg/logging"
	"github.com/tastemind/tastemind/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting TasteMind Reconciler")

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	// Initialize database
	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer database.Close()

	if err := db.Migrate(database.DB); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	// Initialize chain gateway
	gateway, err := chain.New(&cfg.Chain, telemetry.NewRewardMetrics())
	if err != nil {
		logger.Fatal("Failed to initialize chain gateway", zap.Error(err))
	}

	// Initialize event relay
	publisher, err := events.NewPublisher(&cfg.Kafka)
	if err != nil {
		logger.Fatal("Failed to initialize event publisher", zap.Error(err))
	}
	defer publisher.Close()

	outbox := db.NewOutboxRepository(db.NewRepository(database.DB))
	relay := events.NewRelay(outbox, publisher, cfg.Rewards.OutboxBatchSize, cfg.Rewards.OutboxMaxRetries)

	reconciler := rewards.NewReconciler(rewards.NewLedger(database.DB), gateway, relay, cfg.Rewards)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := telemetry.ServeMetrics(ctx, &cfg.Telemetry); err != nil {
			logger.Error("Metrics listener failed", zap.Error(err))
		}
	}()

	done := make(chan error, 1)
	go func() {
		done <- reconciler.Run(ctx)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Shutting down reconciler...")
		cancel()
		err = <-done
	case err = <-done:
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Reconciler stopped", zap.Error(err))
	}
	logger.Info("Reconciler exited")
}
