package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/MrJamesThe3rd/tally/internal/jobs"
	"github.com/MrJamesThe3rd/tally/internal/ledger"
	"github.com/MrJamesThe3rd/tally/internal/matching"
	"github.com/MrJamesThe3rd/tally/internal/reconcile"
	"github.com/MrJamesThe3rd/tally/internal/reportstore"
	"github.com/MrJamesThe3rd/tally/internal/scopelock"
)

const (
	rateLimit  = 10
	rateWindow = time.Minute
)

type Reconciler interface {
	Run(ctx context.Context, scope ledger.Scope) (*reconcile.Report, error)
	ApplyMatches(ctx context.Context, scope ledger.Scope, matches []matching.Match, recalcAll bool) (*reconcile.Report, error)
}

type Locker interface {
	WithLock(ctx context.Context, scope ledger.Scope, fn func(ctx context.Context) error) error
}

type ReportStore interface {
	Save(ctx context.Context, report *reconcile.Report) error
	Latest(ctx context.Context, scope ledger.Scope) (*reconcile.Report, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, kind jobs.Kind, scope ledger.Scope) (*asynq.TaskInfo, error)
}

type Handler struct {
	reconciler Reconciler
	locker     Locker
	reports    ReportStore
	enqueuer   Enqueuer
	validate   *validator.Validate
}

func NewHandler(reconciler Reconciler, locker Locker, reports ReportStore, enqueuer Enqueuer) *Handler {
	return &Handler{
		reconciler: reconciler,
		locker:     locker,
		reports:    reports,
		enqueuer:   enqueuer,
		validate:   validator.New(),
	}
}

// Routes expects a {companyID} URL parameter from the parent route.
func (h *Handler) Routes(r chi.Router) {
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)

	r.Get("/reports/latest", h.latest)

	r.Group(func(r chi.Router) {
		r.Use(limiter)
		r.Post("/runs", h.run)
		r.Post("/apply", h.apply)
		r.Post("/repair", h.repair)
		r.Post("/jobs", h.enqueue)
	})
}

type matchRequest struct {
	PaymentID uuid.UUID `json:"payment_id" validate:"required"`
	InvoiceID uuid.UUID `json:"invoice_id" validate:"required"`
}

type applyRequest struct {
	Matches   []matchRequest `json:"matches" validate:"max=1000,dive"`
	RecalcAll bool           `json:"recalc_all"`
}

type jobRequest struct {
	Kind jobs.Kind `json:"kind" validate:"required,oneof=run repair"`
}

// scopeFromRequest reads the company from the path and the optional
// customer_id query parameter.
func scopeFromRequest(r *http.Request) (ledger.Scope, error) {
	companyID, err := uuid.Parse(chi.URLParam(r, "companyID"))
	if err != nil {
		return ledger.Scope{}, ledger.ErrInvalidScope
	}

	scope := ledger.Scope{CompanyID: companyID}

	if s := r.URL.Query().Get("customer_id"); s != "" {
		customerID, err := uuid.Parse(s)
		if err != nil {
			return ledger.Scope{}, ledger.ErrInvalidScope
		}

		scope.CustomerID = &customerID
	}

	return scope, scope.Validate()
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		http.Error(w, "invalid scope", http.StatusBadRequest)
		return
	}

	report, err := h.reconciler.Run(r.Context(), scope)
	h.save(r.Context(), report)

	if err != nil {
		writeFailure(w, report, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		http.Error(w, "invalid scope", http.StatusBadRequest)
		return
	}

	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if len(req.Matches) == 0 && !req.RecalcAll {
		http.Error(w, "matches required unless recalc_all is set", http.StatusBadRequest)
		return
	}

	matches := make([]matching.Match, len(req.Matches))
	for i, m := range req.Matches {
		matches[i] = matching.Match{PaymentID: m.PaymentID, InvoiceID: m.InvoiceID}
	}

	h.mutate(w, r, scope, func(ctx context.Context) (*reconcile.Report, error) {
		return h.reconciler.ApplyMatches(ctx, scope, matches, req.RecalcAll)
	})
}

func (h *Handler) repair(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		http.Error(w, "invalid scope", http.StatusBadRequest)
		return
	}

	h.mutate(w, r, scope, func(ctx context.Context) (*reconcile.Report, error) {
		return h.reconciler.ApplyMatches(ctx, scope, nil, true)
	})
}

// mutate runs fn under the scope lock and writes its report.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, scope ledger.Scope, fn func(context.Context) (*reconcile.Report, error)) {
	var report *reconcile.Report

	err := h.locker.WithLock(r.Context(), scope, func(ctx context.Context) error {
		var err error

		report, err = fn(ctx)
		h.save(ctx, report)

		return err
	})
	if err != nil {
		writeFailure(w, report, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		http.Error(w, "invalid scope", http.StatusBadRequest)
		return
	}

	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	info, err := h.enqueuer.Enqueue(r.Context(), req.Kind, scope)
	if err != nil {
		if errors.Is(err, jobs.ErrAlreadyQueued) {
			http.Error(w, "job already queued", http.StatusConflict)
			return
		}

		slog.Error("failed to enqueue job", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusAccepted, toJobResponse(info))
}

func (h *Handler) latest(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		http.Error(w, "invalid scope", http.StatusBadRequest)
		return
	}

	report, err := h.reports.Latest(r.Context(), scope)
	if err != nil {
		if errors.Is(err, reportstore.ErrNoReport) {
			http.Error(w, "no report for scope", http.StatusNotFound)
			return
		}

		slog.Error("failed to load report", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, report)
}

// save keeps the report as the scope's latest. The caller still gets the
// report when storing it fails.
func (h *Handler) save(ctx context.Context, report *reconcile.Report) {
	if report == nil {
		return
	}

	if err := h.reports.Save(ctx, report); err != nil {
		slog.Error("failed to save report", "scope", report.Scope.String(), "error", err)
	}
}

func writeFailure(w http.ResponseWriter, report *reconcile.Report, err error) {
	switch {
	case errors.Is(err, scopelock.ErrScopeBusy):
		http.Error(w, "scope is being reconciled", http.StatusConflict)
	case errors.Is(err, ledger.ErrInvalidScope):
		http.Error(w, "invalid scope", http.StatusBadRequest)
	case errors.Is(err, reconcile.ErrLedgerUnavailable) && report != nil:
		writeJSON(w, http.StatusServiceUnavailable, report)
	case errors.Is(err, reconcile.ErrLedgerUnavailable):
		http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
	case report != nil:
		slog.Error("reconciliation interrupted", "error", err)
		writeJSON(w, http.StatusInternalServerError, report)
	default:
		slog.Error("reconciliation failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
