package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/checkops/bank-connector/internal/audit"
	"github.com/checkops/bank-connector/internal/config"
	"github.com/checkops/bank-connector/internal/domain"
	"github.com/checkops/bank-connector/internal/handler"
	"github.com/checkops/bank-connector/internal/server"
	"github.com/checkops/bank-connector/internal/service"
	"github.com/checkops/bank-connector/internal/storage"
	"github.com/checkops/bank-connector/pkg/logger"
)

func main() {
	cfg := config.Load()

	log := logger.New(cfg.Logging.Level)
	defer log.Sync()

	ctx := context.Background()
	log.Info(ctx, "Starting application")

	repo, err := newRepository(cfg)
	if err != nil {
		log.Fatal(ctx, "Failed to initialize repository",
			"driver", cfg.Store.Driver,
			"error", err,
		)
	}
	log.Info(ctx, "Repository initialized",
		"driver", cfg.Store.Driver,
	)

	clock := domain.NewClock()

	auditDispatcher := audit.NewDispatcher(repo, log, clock, &audit.Config{
		QueueSize:  cfg.Audit.QueueSize,
		MaxRetries: cfg.Audit.MaxRetries,
	})
	if err := auditDispatcher.Start(ctx); err != nil {
		log.Fatal(ctx, "Failed to start audit dispatcher",
			"error", err,
		)
	}
	log.Info(ctx, "Audit dispatcher started")

	batchService := service.NewBatchService(repo, auditDispatcher, clock, log)
	fileService := service.NewFileService(repo, auditDispatcher, clock, log)
	ackService := service.NewAckService(repo, auditDispatcher, clock, log)
	reconService := service.NewReconService(repo, auditDispatcher, clock, log)
	configService := service.NewConfigService(repo, auditDispatcher, clock, log)
	log.Info(ctx, "Services initialized")

	batchHandler := handler.NewBatchHandler(batchService, fileService, ackService, reconService, log)
	configHandler := handler.NewConfigHandler(configService, log)
	healthHandler := handler.NewHealthHandler()

	srv := server.New(cfg, log, batchHandler, configHandler, healthHandler)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal(ctx, "Failed to start HTTP server",
				"error", err,
			)
		}
	}()

	log.Info(ctx, "Application started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info(ctx, "Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop accepting requests first, then drain the audit queue so no
	// transition loses its trail entry.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "HTTP server shutdown error",
			"error", err,
		)
	}

	if err := auditDispatcher.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "Audit dispatcher shutdown error",
			"error", err,
		)
	}

	log.Info(ctx, "Application stopped gracefully")
}

func newRepository(cfg *config.Config) (domain.Repository, error) {
	if cfg.Store.Driver == "postgres" {
		store, err := storage.NewGormStore(cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		if err := store.AutoMigrate(); err != nil {
			return nil, err
		}
		return store, nil
	}

	return storage.NewMemoryStore(), nil
}
