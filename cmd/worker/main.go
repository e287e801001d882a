package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrJamesThe3rd/tally/internal/config"
	"github.com/MrJamesThe3rd/tally/internal/database"
	"github.com/MrJamesThe3rd/tally/internal/jobs"
	ledgerStore "github.com/MrJamesThe3rd/tally/internal/ledger/store"
	"github.com/MrJamesThe3rd/tally/internal/matching"
	"github.com/MrJamesThe3rd/tally/internal/reconcile"
	"github.com/MrJamesThe3rd/tally/internal/reportstore"
	"github.com/MrJamesThe3rd/tally/internal/scopelock"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := database.New(ctx, cfg.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, err := database.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer rdb.Close()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}

	queue := jobs.NewClient(redisOpts, 0)
	defer queue.Close()

	var (
		ledger  = ledgerStore.New(db)
		matcher = matching.NewMatcher(
			matching.WithLookback(cfg.Reconcile.LookbackMonths),
			matching.WithEpsilon(cfg.Reconcile.Epsilon),
		)
		reconciler = reconcile.NewReconciler(ledger, ledger, ledger, matcher)
		registry   = prometheus.NewRegistry()
		handlers   = jobs.NewHandlers(
			reconciler,
			scopelock.New(rdb, cfg.Reconcile.LockTTL),
			reportstore.New(rdb, cfg.Reconcile.ReportTTL),
			queue,
			jobs.NewMetrics(registry),
			logger,
		)
	)

	cron, err := sweepCron(cfg)
	if err != nil {
		return err
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.Worker.Concurrency,
		Handlers:    handlers.TaskHandlers(),
		Cron:        cron,
	})
	if err != nil {
		return fmt.Errorf("init worker: %w", err)
	}

	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Worker.MetricsPort),
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return worker.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("serving metrics", "addr", metricsSrv.Addr)

		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return metricsSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func sweepCron(cfg *config.Config) ([]jobs.CronRegistration, error) {
	companies, err := cfg.SweepCompanyIDs()
	if err != nil {
		return nil, err
	}

	if len(companies) == 0 || cfg.Worker.SweepCron == "" {
		return nil, nil
	}

	task, err := jobs.NewSweepTask(companies)
	if err != nil {
		return nil, err
	}

	return []jobs.CronRegistration{
		{Spec: cfg.Worker.SweepCron, Task: task, Options: []asynq.Option{asynq.MaxRetry(3), asynq.Queue(jobs.QueueDefault)}},
	}, nil
}
