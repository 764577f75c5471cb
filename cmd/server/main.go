package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/prudhvinik1/syncbridge/internal/api"
	"github.com/prudhvinik1/syncbridge/internal/config"
	"github.com/prudhvinik1/syncbridge/internal/database"
	"github.com/prudhvinik1/syncbridge/internal/engine"
	"github.com/prudhvinik1/syncbridge/internal/legacy"
	"github.com/prudhvinik1/syncbridge/internal/logger"
	"github.com/prudhvinik1/syncbridge/internal/metrics"
	"github.com/prudhvinik1/syncbridge/internal/models"
	"github.com/prudhvinik1/syncbridge/internal/orchestrator"
	"github.com/prudhvinik1/syncbridge/internal/queue"
	"github.com/prudhvinik1/syncbridge/internal/repositories"
	"github.com/prudhvinik1/syncbridge/internal/services"
	"github.com/prudhvinik1/syncbridge/internal/stream"
	"github.com/prudhvinik1/syncbridge/internal/translator"
)

func main() {
	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(logger.Config{Env: cfg.LogEnv, Level: cfg.LogLevel, ServiceName: "syncbridge"})

	if err := run(cfg); err != nil {
		logger.L().Error("sync engine stopped", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run(cfg *config.Config) error {
	log := logger.Named("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := metrics.Register(nil); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	var snapshots repositories.SnapshotRepository = repositories.NewMemorySnapshotRepository()
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		snapshots = repositories.NewRedisSnapshotRepository(redisClient)
	}

	var audit repositories.SyncEventRepository = repositories.NoopSyncEventRepository{}
	if cfg.DatabaseURL != "" {
		postgresPool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer postgresPool.Close()
		audit = repositories.NewPostgresSyncEventRepository(postgresPool)
	} else {
		log.Info("DATABASE_URL not set, audit log disabled")
	}

	legacyClient := legacy.NewClient(cfg.Legacy)
	if legacyClient.Configured() {
		if err := legacyClient.TestConnection(ctx); err != nil {
			return fmt.Errorf("legacy system unreachable: %w", err)
		}
		log.Info("legacy system connected", zap.String("url", cfg.Legacy.BaseURL))
	} else {
		log.Warn("legacy system not configured, changes will fail until it is")
	}

	engineClient := engine.NewClient(cfg.Engine.BaseURL, engine.StaticToken(cfg.Engine.Token), cfg.Engine.Timeout)
	tr := translator.New(cfg.FingerprintKey)

	devices := services.NewDeviceSyncService(
		engine.NewCollection[models.Device](engineClient, "/api/devices"),
		legacy.NewResource[models.LegacyDevice](legacyClient, "/api/devices"),
		snapshots, tr,
	)
	tenants := services.NewTenantSyncService(
		engine.NewCollection[models.Tenant](engineClient, "/api/tenants"),
		legacy.NewResource[models.LegacyTenant](legacyClient, "/api/tenants"),
		snapshots, tr,
	)
	dispatcher := services.NewDispatcher(devices, tenants)

	dialer, err := stream.NewDialer(engineClient.BaseURL(), engineClient.Tokens())
	if err != nil {
		return err
	}

	orch := orchestrator.New(orchestrator.Deps{
		Dialer:           dialer,
		Listener:         stream.NewListener(stream.NewClassifier(orchestrator.Commands()...)),
		Broker:           queue.NewBroker(cfg.Broker),
		Dispatcher:       dispatcher,
		Audit:            audit,
		LegacyConfigured: legacyClient.Configured(),
	}, orchestrator.Options{
		Reconnect:         cfg.Reconnect,
		StreamBuffer:      cfg.StreamBuffer,
		ReconcileInterval: cfg.ReconcileInterval,
		ReconcileOnStart:  cfg.ReconcileOnStart,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           api.NewRouter(orch, dispatcher, audit, nil),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("starting server", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", zap.Error(err))
			stop()
		}
	}()

	runErr := orch.Run(ctx)

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown failed", zap.Error(err))
	}
	return runErr
}
