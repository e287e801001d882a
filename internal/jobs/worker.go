// Package jobs runs reconciliation in the background on an asynq queue.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/MrJamesThe3rd/tally/internal/ledger"
)

// ErrAlreadyQueued is returned when the same task is still pending.
var ErrAlreadyQueued = errors.New("jobs: task already queued for scope")

// DefaultUniqueTTL bounds how long a queued scope task blocks duplicates.
const DefaultUniqueTTL = 30 * time.Minute

type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

type WorkerConfig struct {
	RedisOpts   asynq.RedisConnOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// Worker wraps the asynq server and the optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.RedisOpts == nil {
		return nil, errors.New("worker: redis options required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueDefault: 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Error("failed to process task", "type", task.Type(), "error", err)
		}),
	})

	mux := asynq.NewServeMux()

	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}

		mux.HandleFunc(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler

	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})

		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}

			if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
				return nil, fmt.Errorf("register cron %q: %w", entry.Spec, err)
			}
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: logger}, nil
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}

	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- w.server.Run(w.mux)
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("shutting down worker")

		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}

		w.server.Shutdown()

		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}

		return err
	}
}

// Client submits scope tasks to the queue.
type Client struct {
	client    *asynq.Client
	uniqueTTL time.Duration
}

func NewClient(redisOpts asynq.RedisConnOpt, uniqueTTL time.Duration) *Client {
	if uniqueTTL <= 0 {
		uniqueTTL = DefaultUniqueTTL
	}

	return &Client{client: asynq.NewClient(redisOpts), uniqueTTL: uniqueTTL}
}

// Enqueue queues a run or repair for scope. A task with the same kind and
// scope that is still queued or running yields ErrAlreadyQueued.
func (c *Client) Enqueue(ctx context.Context, kind Kind, scope ledger.Scope) (*asynq.TaskInfo, error) {
	task, err := NewScopeTask(kind, scope)
	if err != nil {
		return nil, err
	}

	info, err := c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.Unique(c.uniqueTTL))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil, ErrAlreadyQueued
	}

	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}

	return info, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
