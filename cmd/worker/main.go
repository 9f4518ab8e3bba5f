// Package main provides the worker entry point for the lead session engine.
// It runs the hunt and audit pools and, when scheduled, the recovery sweeper.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lead-engine/internal/config"
	"github.com/lead-engine/internal/enrichment"
	"github.com/lead-engine/internal/job"
	"github.com/lead-engine/internal/logging"
	"github.com/lead-engine/internal/metrics"
	"github.com/lead-engine/internal/queue"
	"github.com/lead-engine/internal/storage"
	"github.com/lead-engine/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger().WithField("component", "worker")
	defer func() { _ = logger.Sync() }()

	postgres, err := storage.Connect(context.Background(), &cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	queues, err := queue.NewManager(&cfg.Database.Redis, cfg.Queue.KeyPrefix,
		queue.WithLockDuration(cfg.Queue.LockDuration),
		queue.WithMaxStalls(cfg.Queue.MaxStalls),
	)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer func() { _ = queues.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	sessionRepo := storage.NewSessionRepository(postgres)
	leadRepo := storage.NewLeadRepository(postgres)
	enricher := enrichment.NewClient(&cfg.Enrichment, enrichment.WithMetrics(m))

	huntProcessor := job.NewProcessor(
		sessionRepo,
		job.NewHuntDomain(sessionRepo, leadRepo, enricher),
		job.NewHuntCancellation(),
		job.WithBatchSize(cfg.Worker.BatchSize),
		job.WithMetrics(m),
	)
	auditProcessor := job.NewProcessor(
		sessionRepo,
		job.NewAuditDomain(sessionRepo, leadRepo, enricher),
		job.NewAuditCancellation(sessionRepo),
		job.WithBatchSize(cfg.Worker.BatchSize),
		job.WithMetrics(m),
	)

	pools := make([]*worker.Pool, 0, 2)
	for _, pc := range []worker.PoolConfig{
		{Queue: queues.Queue(cfg.Queue.HuntQueue), Runner: huntProcessor, Concurrency: cfg.Worker.HuntConcurrency},
		{Queue: queues.Queue(cfg.Queue.AuditQueue), Runner: auditProcessor, Concurrency: cfg.Worker.AuditConcurrency},
	} {
		pc.PollInterval = cfg.Worker.PollInterval
		pc.Logger = logger
		pc.Metrics = m
		pool, err := worker.NewPool(pc)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create worker pool")
		}
		pools = append(pools, pool)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, pool := range pools {
		if err := pool.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to start worker pool")
		}
	}

	var scheduler *job.SweepScheduler
	if cfg.Sweeper.Schedule != "" {
		sweeper := job.NewRecoverySweeper(
			sessionRepo,
			job.NewQueueLiveness(queues, cfg.Queue.HuntQueue, cfg.Queue.AuditQueue),
			job.SweeperOptions{
				VerifyJobLiveness: cfg.Sweeper.VerifyJobLiveness,
				ListLimit:         cfg.Sweeper.ListLimit,
				Metrics:           m,
			},
		)
		scheduler, err = job.NewSweepScheduler(sweeper, cfg.Sweeper.Schedule, logger.WithField("component", "sweeper"))
		if err != nil {
			logger.WithError(err).Fatal("Failed to schedule sweeper")
		}
		scheduler.Start()
	}

	var metricsServer *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.WithField("addr", cfg.Metrics.Addr).Info("Serving metrics")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("Metrics listener failed")
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	if scheduler != nil {
		scheduler.Stop()
	}
	for _, pool := range pools {
		if err := pool.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Worker pool did not stop cleanly")
		}
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	logger.Info("Worker exited")
}
