// Package main provides the API server entry point for the lead session engine.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lead-engine/internal/api"
	"github.com/lead-engine/internal/config"
	"github.com/lead-engine/internal/job"
	"github.com/lead-engine/internal/logging"
	"github.com/lead-engine/internal/metrics"
	"github.com/lead-engine/internal/queue"
	"github.com/lead-engine/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger().WithField("component", "server")
	defer func() { _ = logger.Sync() }()

	logger.Info("Connecting to Postgres...")
	postgres, err := storage.Connect(context.Background(), &cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	logger.Info("Connecting to Redis...")
	queues, err := queue.NewManager(&cfg.Database.Redis, cfg.Queue.KeyPrefix,
		queue.WithLockDuration(cfg.Queue.LockDuration),
		queue.WithMaxStalls(cfg.Queue.MaxStalls),
	)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer func() { _ = queues.Close() }()

	sessions := job.NewSessionService(
		storage.NewSessionRepository(postgres),
		storage.NewLeadRepository(postgres),
		queues,
		cfg.Queue.HuntQueue,
		cfg.Queue.AuditQueue,
		metrics.NewMetrics(nil),
	)

	server := api.NewServer(&api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		Burst:             cfg.Server.Burst,
	}, sessions, map[string]api.HealthChecker{
		"postgres": postgres,
		"redis":    queues,
	}, logger)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
