package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tastemind/tastemind/internal/api"
	"github.com/tastemind/tastemind/internal/cache"
	"github.com/tastemind/tastemind/internal/chain"
	"github.com/tastemind/tastemind/internal/db"
	"github.com/tastemind/tastemind/internal/rewards"
	"github.com/tastemind/tastemind/internal/trust"
	"github.com/tastemind/tastemind/pkg/config"
	"github.com/tastemind/tastemind/pkg/logging"
	"github.com/tastemind/tastemind/pkg/telemetry"
)

const awardLockExpiration = 10 * time.Second

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
	logger.Info("Starting TasteMind API Server")

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()
	metrics := telemetry.NewRewardMetrics()

	// Initialize database
	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer database.Close()

	if err := db.Migrate(database.DB); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	// Initialize Redis cache; nil when disabled
	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	defer redisCache.Close()

	var locker rewards.Locker = cache.NewLocalLocker()
	checks := map[string]api.HealthChecker{"database": database}
	if redisCache != nil {
		locker = cache.NewRedisLocker(redisCache, awardLockExpiration)
		checks["redis"] = redisCache
	}

	// Initialize chain gateway
	gateway, err := chain.New(&cfg.Chain, metrics)
	if err != nil {
		logger.Fatal("Failed to initialize chain gateway", zap.Error(err))
	}

	// Wire services
	ledger := rewards.NewLedger(database.DB)
	distributor := rewards.NewDistributor(ledger, gateway, cfg.Rewards).
		WithLocker(locker).
		WithMetrics(metrics)
	claims := rewards.NewClaimCoordinator(ledger, gateway, cfg.Rewards).
		WithMetrics(metrics)

	repo := db.NewRepository(database.DB)
	accounts := db.NewAccountRepository(repo)
	graph := db.NewSocialGraphRepository(repo)
	engine := trust.NewEngine(accounts, graph, redisCache, cfg.Trust)

	apiRouter := api.NewRouter(api.Services{
		Ledger:      ledger,
		Distributor: distributor,
		Claims:      claims,
		Trust:       engine,
		Accounts:    accounts,
		Graph:       graph,
		Chain:       gateway,
		Checks:      checks,
	})

	// Create Gin router
	if cfg.Logging.Level == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	apiRouter.SetupRoutes(router)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go gateway.Watch(ctx, cfg.Chain.ProbeInterval)

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stop()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
