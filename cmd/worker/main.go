package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/glsync/internal/accounting"
	"github.com/odyssey-erp/glsync/internal/accounting/mappings"
	"github.com/odyssey-erp/glsync/internal/app"
	"github.com/odyssey-erp/glsync/internal/events"
	"github.com/odyssey-erp/glsync/internal/integration"
	jobmetrics "github.com/odyssey-erp/glsync/internal/jobs"
	"github.com/odyssey-erp/glsync/internal/observability"
	"github.com/odyssey-erp/glsync/internal/platform/cache"
	"github.com/odyssey-erp/glsync/internal/platform/db"
	"github.com/odyssey-erp/glsync/internal/reconcile"
	"github.com/odyssey-erp/glsync/internal/shared"
	"github.com/odyssey-erp/glsync/internal/sources"
	"github.com/odyssey-erp/glsync/jobs"
)

const mappingRefresh = 5 * time.Minute

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGConnLifetime})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts, err := cfg.AsynqRedis()
	if err != nil {
		logger.Error("parse redis address", slog.Any("error", err))
		os.Exit(1)
	}

	obs := observability.NewMetrics()
	metrics := jobmetrics.NewMetrics(obs.Registerer())
	reconcileMetrics := reconcile.NewMetrics(obs.Registerer())
	if cfg.WorkerMetricsAddr != "" {
		go serveMetrics(ctx, cfg.WorkerMetricsAddr, obs, logger)
	}

	mappingRepo := mappings.NewRepository(pool)
	mappingTable := mappings.NewTable(mappingRepo)
	if err := mappingTable.Load(ctx); err != nil {
		logger.Error("load account mappings", slog.Any("error", err))
		os.Exit(1)
	}
	go refreshMappings(ctx, mappingTable, logger)

	accountingService := accounting.NewService(
		accounting.NewRepository(pool),
		shared.NewAuditLogger(pool),
		shared.NewRedisLocker(redisClient, cfg.LockTTL),
	)
	sourceRepo := sources.NewRepository(pool)

	// Outbound events only; inbound topics are consumed by the API process.
	dispatcher := events.NewDispatcher(logger)
	dispatcher.Subscribe(events.TopicIntegrationError, func(ctx context.Context, evt events.Event) error {
		logger.Warn("ledger sync failed", slog.String("tenant_id", evt.TenantID.String()), slog.String("source_id", evt.SourceID.String()), slog.Any("error", evt.Data["error"]))
		return nil
	})

	orchestrator := integration.NewOrchestrator(sourceRepo, mappingTable, accountingService, dispatcher, integration.Config{
		FetchTimeout:       cfg.SyncFetchTimeout,
		PostTimeout:        cfg.SyncPostTimeout,
		OverheadMultiplier: cfg.OverheadMultiplier,
	}, logger).WithRecorder(metrics).WithSkipRecorder(sourceRepo)
	reconciler := reconcile.New(sourceRepo, orchestrator, reconcile.Config{
		Concurrency: cfg.ReconcileConcurrency,
		BatchSize:   cfg.ReconcileBatchSize,
	}, reconcileMetrics, logger)

	syncJob := jobs.NewLedgerSyncJob(orchestrator, logger, metrics)
	tenants := jobs.TenantSet{mappingRepo, sourceRepo}
	reconcileJob := jobs.NewLedgerReconcileJob(reconciler, tenants, logger, metrics)
	integrityJob := jobs.NewGLIntegrityJob(accountingService, tenants, logger, metrics)

	reconcileTask, err := jobs.NewLedgerReconcileTask("all", "")
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}
	integrityTask, err := jobs.NewGLIntegrityTask("all")
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLedgerSync, Handler: syncJob.Handle},
			{Type: jobs.TaskLedgerReconcile, Handler: reconcileJob.Handle},
			{Type: jobs.TaskGLIntegrity, Handler: integrityJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReconcileCron, Task: reconcileTask, Options: []asynq.Option{asynq.MaxRetry(1), asynq.Unique(10 * time.Minute)}},
			{Spec: cfg.IntegrityCron, Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
	dispatcher.Wait()
}

func refreshMappings(ctx context.Context, table *mappings.Table, logger *slog.Logger) {
	ticker := time.NewTicker(mappingRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := table.Reload(ctx); err != nil {
				logger.Warn("refresh account mappings", slog.Any("error", err))
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, obs *observability.Metrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	logger.Info("worker metrics listening", slog.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("worker metrics server", slog.Any("error", err))
	}
}
