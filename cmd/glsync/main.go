package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/glsync/internal/accounting"
	"github.com/odyssey-erp/glsync/internal/accounting/mappings"
	"github.com/odyssey-erp/glsync/internal/app"
	"github.com/odyssey-erp/glsync/internal/events"
	"github.com/odyssey-erp/glsync/internal/integration"
	integrationhttp "github.com/odyssey-erp/glsync/internal/integration/http"
	jobmetrics "github.com/odyssey-erp/glsync/internal/jobs"
	"github.com/odyssey-erp/glsync/internal/observability"
	"github.com/odyssey-erp/glsync/internal/platform/cache"
	"github.com/odyssey-erp/glsync/internal/platform/db"
	"github.com/odyssey-erp/glsync/internal/reconcile"
	"github.com/odyssey-erp/glsync/internal/shared"
	"github.com/odyssey-erp/glsync/internal/sources"
	"github.com/odyssey-erp/glsync/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.PGDSN, logger); err != nil {
			logger.Error("migrate database", slog.Any("error", err))
			os.Exit(1)
		}
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGConnLifetime})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	// Without redis the poster falls back to in-process locking.
	var locker accounting.Locker
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, using local locks", slog.Any("error", err))
	} else {
		defer func(c *redis.Client) {
			if err := c.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}(redisClient)
		locker = shared.NewRedisLocker(redisClient, cfg.LockTTL)
	}

	redisOpts, err := cfg.AsynqRedis()
	if err != nil {
		logger.Error("parse redis address", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	reconcileMetrics := reconcile.NewMetrics(metrics.Registerer())

	mappingRepo := mappings.NewRepository(dbpool)
	mappingTable := mappings.NewTable(mappingRepo)
	if err := mappingTable.Load(ctx); err != nil {
		logger.Error("load account mappings", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("account mappings loaded", slog.Int("count", mappingTable.Len()))

	auditLogger := shared.NewAuditLogger(dbpool)
	accountingRepo := accounting.NewRepository(dbpool)
	accountingService := accounting.NewService(accountingRepo, auditLogger, locker)

	sourceRepo := sources.NewRepository(dbpool)
	dispatcher := events.NewDispatcher(logger)
	orchestrator := integration.NewOrchestrator(sourceRepo, mappingTable, accountingService, dispatcher, integration.Config{
		FetchTimeout:       cfg.SyncFetchTimeout,
		PostTimeout:        cfg.SyncPostTimeout,
		OverheadMultiplier: cfg.OverheadMultiplier,
	}, logger).WithRecorder(jobMetrics).WithSkipRecorder(sourceRepo)

	jobsClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	jobsClient.WithLogger(logger)
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	if cfg.QueueMode() {
		dispatcher.SubscribeAll(integration.Subscriptions(jobsClient.EnqueueSync))
	} else {
		dispatcher.SubscribeAll(orchestrator.Handlers())
	}
	dispatcher.Subscribe(events.TopicIntegrationError, func(ctx context.Context, evt events.Event) error {
		logger.Warn("ledger sync failed",
			slog.String("tenant_id", evt.TenantID.String()),
			slog.String("source_id", evt.SourceID.String()),
			slog.Any("error", evt.Data["error"]))
		return nil
	})
	logger.Info("event subscriptions ready", slog.String("mode", cfg.SyncMode), slog.Any("topics", dispatcher.Topics()))

	reconciler := reconcile.New(sourceRepo, orchestrator, reconcile.Config{
		Concurrency: cfg.ReconcileConcurrency,
		BatchSize:   cfg.ReconcileBatchSize,
	}, reconcileMetrics, logger)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	integrationHandler := integrationhttp.NewHandler(integrationhttp.Deps{
		Logger:     logger,
		Syncer:     orchestrator,
		Reconciler: reconciler,
		Ledger:     accountingService,
		Queue: integrationhttp.EnqueueFunc(func(ctx context.Context, tenantID, module string) error {
			_, err := jobsClient.EnqueueReconcile(ctx, tenantID, module)
			return err
		}),
		Events:   dispatcher,
		Mappings: mappingTable,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		IntegrationHandler: integrationHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
		Database:           dbpool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	dispatcher.Wait()
}
