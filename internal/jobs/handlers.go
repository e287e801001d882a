package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/MrJamesThe3rd/tally/internal/ledger"
	"github.com/MrJamesThe3rd/tally/internal/matching"
	"github.com/MrJamesThe3rd/tally/internal/reconcile"
)

type Reconciler interface {
	Run(ctx context.Context, scope ledger.Scope) (*reconcile.Report, error)
	ApplyMatches(ctx context.Context, scope ledger.Scope, matches []matching.Match, recalcAll bool) (*reconcile.Report, error)
}

type Locker interface {
	WithLock(ctx context.Context, scope ledger.Scope, fn func(ctx context.Context) error) error
}

type ReportSaver interface {
	Save(ctx context.Context, report *reconcile.Report) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, kind Kind, scope ledger.Scope) (*asynq.TaskInfo, error)
}

// Handlers processes reconciliation tasks. Every scope task runs under the
// scope lock; a busy scope fails the task so asynq retries it later.
type Handlers struct {
	reconciler Reconciler
	locker     Locker
	reports    ReportSaver
	enqueuer   Enqueuer
	metrics    *Metrics
	logger     *slog.Logger
}

func NewHandlers(reconciler Reconciler, locker Locker, reports ReportSaver, enqueuer Enqueuer, metrics *Metrics, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handlers{
		reconciler: reconciler,
		locker:     locker,
		reports:    reports,
		enqueuer:   enqueuer,
		metrics:    metrics,
		logger:     logger,
	}
}

func (h *Handlers) TaskHandlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskRun, Handler: h.HandleRun},
		{Type: TaskRepair, Handler: h.HandleRepair},
		{Type: TaskSweep, Handler: h.HandleSweep},
	}
}

// HandleRun produces an advisory report for the scope and stores it.
func (h *Handlers) HandleRun(ctx context.Context, t *asynq.Task) error {
	return h.handleScope(ctx, t, func(ctx context.Context, scope ledger.Scope) (*reconcile.Report, error) {
		return h.reconciler.Run(ctx, scope)
	})
}

// HandleRepair recomputes every invoice of the scope from its allocations.
func (h *Handlers) HandleRepair(ctx context.Context, t *asynq.Task) error {
	return h.handleScope(ctx, t, func(ctx context.Context, scope ledger.Scope) (*reconcile.Report, error) {
		return h.reconciler.ApplyMatches(ctx, scope, nil, true)
	})
}

func (h *Handlers) handleScope(ctx context.Context, t *asynq.Task, fn func(context.Context, ledger.Scope) (*reconcile.Report, error)) error {
	tracker := h.metrics.Track(t.Type())

	scope, err := scopeFromTask(t)
	if err != nil {
		return tracker.End(err)
	}

	logger := h.logger.With("task", t.Type(), "scope", scope.String())

	err = h.locker.WithLock(ctx, scope, func(ctx context.Context) error {
		report, err := fn(ctx, scope)
		if report != nil {
			h.metrics.ObserveReport(t.Type(), report)

			if saveErr := h.reports.Save(ctx, report); saveErr != nil {
				logger.Error("failed to save report", "error", saveErr)

				if err == nil {
					err = saveErr
				}
			}
		}

		if err != nil || report == nil {
			return err
		}

		if report.HasErrors() {
			logger.Warn("reconciliation finished with item errors", "errors", len(report.Errors))
		}

		logger.Info("reconciliation finished",
			"unallocated", report.UnallocatedCount,
			"allocations_created", report.AllocationsCreated,
			"invoices_updated", report.InvoicesUpdated,
		)

		return nil
	})
	if err != nil {
		return tracker.End(fmt.Errorf("%s: %w", t.Type(), err))
	}

	return tracker.End(nil)
}

// HandleSweep enqueues a run for each company of the payload. Companies that
// already have a run queued are left alone.
func (h *Handlers) HandleSweep(ctx context.Context, t *asynq.Task) error {
	tracker := h.metrics.Track(t.Type())

	var payload SweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry))
	}

	var errs []error

	for _, companyID := range payload.CompanyIDs {
		_, err := h.enqueuer.Enqueue(ctx, KindRun, ledger.Scope{CompanyID: companyID})
		if errors.Is(err, ErrAlreadyQueued) {
			continue
		}

		if err != nil {
			h.logger.Error("failed to enqueue run", "company_id", companyID, "error", err)
			errs = append(errs, err)
		}
	}

	return tracker.End(errors.Join(errs...))
}
