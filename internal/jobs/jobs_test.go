package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/tally/internal/ledger"
	"github.com/MrJamesThe3rd/tally/internal/ledger/memory"
	"github.com/MrJamesThe3rd/tally/internal/matching"
	"github.com/MrJamesThe3rd/tally/internal/reconcile"
	"github.com/MrJamesThe3rd/tally/internal/reportstore"
	"github.com/MrJamesThe3rd/tally/internal/scopelock"
)

var (
	companyID  = uuid.MustParse("9b2e4c61-0d3a-4f7e-8a15-6c0f1e2d3001")
	customerID = uuid.MustParse("9b2e4c61-0d3a-4f7e-8a15-6c0f1e2d3101")
	scope      = ledger.Scope{CompanyID: companyID}
	jan10      = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	mr       *miniredis.Miniredis
	store    *memory.Store
	locker   *scopelock.Locker
	reports  *reportstore.Store
	metrics  *Metrics
	handlers *Handlers
}

func newFixture(t *testing.T, reconciler Reconciler, enqueuer Enqueuer) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memory.New()
	if reconciler == nil {
		reconciler = reconcile.NewReconciler(store, store, store, matching.NewMatcher())
	}

	f := &fixture{
		mr:      mr,
		store:   store,
		locker:  scopelock.New(client, time.Minute),
		reports: reportstore.New(client, time.Hour),
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	f.handlers = NewHandlers(reconciler, f.locker, f.reports, enqueuer, f.metrics, nil)

	return f
}

func seedExactMatch(store *memory.Store) (ledger.Payment, ledger.Invoice) {
	inv := ledger.Invoice{
		ID:          uuid.New(),
		CompanyID:   companyID,
		CustomerID:  customerID,
		InvoiceDate: jan10,
		DueDate:     jan10.AddDate(0, 1, 0),
		TotalAmount: decimal.NewFromInt(1000),
		PaidAmount:  decimal.Zero,
		BalanceDue:  decimal.NewFromInt(1000),
		Status:      ledger.StatusDraft,
	}
	pay := ledger.Payment{
		ID:          uuid.New(),
		CompanyID:   companyID,
		CustomerID:  customerID,
		Amount:      decimal.NewFromInt(1000),
		PaymentDate: jan10.AddDate(0, 0, 3),
	}

	store.AddInvoice(inv)
	store.AddPayment(pay)

	return pay, inv
}

func scopeTask(t *testing.T, kind Kind, s ledger.Scope) *asynq.Task {
	t.Helper()

	task, err := NewScopeTask(kind, s)
	require.NoError(t, err)

	return task
}

func TestNewScopeTask(t *testing.T) {
	task, err := NewScopeTask(KindRepair, scope)
	require.NoError(t, err)
	assert.Equal(t, TaskRepair, task.Type())

	got, err := scopeFromTask(task)
	require.NoError(t, err)
	assert.Equal(t, scope, got)

	_, err = NewScopeTask(Kind("delete"), scope)
	assert.Error(t, err)

	_, err = NewScopeTask(KindRun, ledger.Scope{})
	assert.ErrorIs(t, err, ledger.ErrInvalidScope)
}

func TestHandleRun(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, inv := seedExactMatch(f.store)

	err := f.handlers.HandleRun(context.Background(), scopeTask(t, KindRun, scope))
	require.NoError(t, err)

	report, err := f.reports.Latest(context.Background(), scope)
	require.NoError(t, err)
	assert.Equal(t, reconcile.ModeAdvisory, report.Mode)
	require.Len(t, report.Candidates, 1)
	assert.Equal(t, inv.ID, report.Candidates[0].InvoiceID)

	stored, ok := f.store.Invoice(inv.ID)
	require.True(t, ok)
	assert.Equal(t, ledger.StatusDraft, stored.Status, "run must not write")

	assert.False(t, f.mr.Exists(scopelock.Key(scope)), "lock must be released")
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.runs.WithLabelValues(TaskRun, "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.unallocated.WithLabelValues(companyID.String())), 0)
}

func TestHandleRepair(t *testing.T) {
	f := newFixture(t, nil, nil)
	pay, inv := seedExactMatch(f.store)

	f.store.AddAllocation(ledger.Allocation{
		ID:        uuid.New(),
		PaymentID: pay.ID,
		InvoiceID: inv.ID,
		Amount:    decimal.NewFromInt(400),
		CreatedAt: jan10,
	})

	err := f.handlers.HandleRepair(context.Background(), scopeTask(t, KindRepair, scope))
	require.NoError(t, err)

	stored, ok := f.store.Invoice(inv.ID)
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(400).Equal(stored.PaidAmount))
	assert.True(t, decimal.NewFromInt(600).Equal(stored.BalanceDue))
	assert.Equal(t, ledger.StatusPartial, stored.Status)

	report, err := f.reports.Latest(context.Background(), scope)
	require.NoError(t, err)
	assert.Equal(t, reconcile.ModeApply, report.Mode)
	assert.Equal(t, 1, report.InvoicesUpdated)
	assert.Zero(t, report.AllocationsCreated)
}

func TestHandleRun_ScopeBusy(t *testing.T) {
	f := newFixture(t, nil, nil)
	seedExactMatch(f.store)

	held, err := f.locker.Acquire(context.Background(), scope)
	require.NoError(t, err)

	err = f.handlers.HandleRun(context.Background(), scopeTask(t, KindRun, scope))
	require.ErrorIs(t, err, scopelock.ErrScopeBusy)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	_, err = f.reports.Latest(context.Background(), scope)
	assert.ErrorIs(t, err, reportstore.ErrNoReport)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.failures.WithLabelValues(TaskRun)), 0)

	require.NoError(t, held.Release(context.Background()))
}

func TestHandleRun_BadPayload(t *testing.T) {
	f := newFixture(t, nil, nil)

	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "NotJSON", payload: []byte("nope")},
		{name: "NoCompany", payload: []byte(`{"company_id":"00000000-0000-0000-0000-000000000000"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.handlers.HandleRun(context.Background(), asynq.NewTask(TaskRun, tt.payload))
			assert.ErrorIs(t, err, asynq.SkipRetry)
		})
	}
}

type fatalReconciler struct{}

func (fatalReconciler) Run(_ context.Context, s ledger.Scope) (*reconcile.Report, error) {
	return &reconcile.Report{Scope: s, Mode: reconcile.ModeAdvisory, Fatal: true}, reconcile.ErrLedgerUnavailable
}

func (fatalReconciler) ApplyMatches(_ context.Context, s ledger.Scope, _ []matching.Match, _ bool) (*reconcile.Report, error) {
	return &reconcile.Report{Scope: s, Mode: reconcile.ModeApply, Fatal: true}, reconcile.ErrLedgerUnavailable
}

func TestHandleRun_LedgerUnavailable(t *testing.T) {
	f := newFixture(t, fatalReconciler{}, nil)

	err := f.handlers.HandleRun(context.Background(), scopeTask(t, KindRun, scope))
	require.ErrorIs(t, err, reconcile.ErrLedgerUnavailable)

	report, err := f.reports.Latest(context.Background(), scope)
	require.NoError(t, err)
	assert.True(t, report.Fatal, "fatal report is still stored for operators")
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.runs.WithLabelValues(TaskRun, "failure")), 0)
}

type fakeEnqueuer struct {
	calls []ledger.Scope
	errs  map[uuid.UUID]error
}

func (e *fakeEnqueuer) Enqueue(_ context.Context, kind Kind, s ledger.Scope) (*asynq.TaskInfo, error) {
	if kind != KindRun {
		return nil, errors.New("unexpected kind")
	}

	e.calls = append(e.calls, s)

	if err := e.errs[s.CompanyID]; err != nil {
		return nil, err
	}

	return &asynq.TaskInfo{Type: TaskRun, Queue: QueueDefault}, nil
}

func TestHandleSweep(t *testing.T) {
	queued, failing, fresh := uuid.New(), uuid.New(), uuid.New()
	boom := errors.New("redis down")

	enq := &fakeEnqueuer{errs: map[uuid.UUID]error{
		queued:  ErrAlreadyQueued,
		failing: boom,
	}}
	f := newFixture(t, nil, enq)

	task, err := NewSweepTask([]uuid.UUID{queued, failing, fresh})
	require.NoError(t, err)

	err = f.handlers.HandleSweep(context.Background(), task)
	require.ErrorIs(t, err, boom)
	assert.Len(t, enq.calls, 3)

	enq.errs = nil
	require.NoError(t, f.handlers.HandleSweep(context.Background(), task))

	err = f.handlers.HandleSweep(context.Background(), asynq.NewTask(TaskSweep, []byte("[")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestTaskHandlers(t *testing.T) {
	f := newFixture(t, nil, nil)

	var types []string
	for _, h := range f.handlers.TaskHandlers() {
		require.NotNil(t, h.Handler)
		types = append(types, h.Type)
	}

	assert.ElementsMatch(t, []string{TaskRun, TaskRepair, TaskSweep}, types)
}

func TestClient_Enqueue(t *testing.T) {
	mr := miniredis.RunT(t)

	client := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()}, time.Minute)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()

	info, err := client.Enqueue(ctx, KindRun, scope)
	require.NoError(t, err)
	assert.Equal(t, TaskRun, info.Type)
	assert.Equal(t, QueueDefault, info.Queue)

	_, err = client.Enqueue(ctx, KindRun, scope)
	assert.ErrorIs(t, err, ErrAlreadyQueued)

	_, err = client.Enqueue(ctx, KindRepair, scope)
	require.NoError(t, err, "a different kind is a different task")

	_, err = client.Enqueue(ctx, Kind("bogus"), scope)
	assert.Error(t, err)
}

func TestNewWorker(t *testing.T) {
	opts := asynq.RedisClientOpt{Addr: "localhost:0"}

	_, err := NewWorker(WorkerConfig{})
	assert.Error(t, err)

	sweep, err := NewSweepTask([]uuid.UUID{companyID})
	require.NoError(t, err)

	_, err = NewWorker(WorkerConfig{
		RedisOpts: opts,
		Cron:      []CronRegistration{{Spec: "not a cron", Task: sweep}},
	})
	assert.Error(t, err)

	w, err := NewWorker(WorkerConfig{
		RedisOpts: opts,
		Handlers:  []TaskHandler{{Type: TaskRun, Handler: func(context.Context, *asynq.Task) error { return nil }}},
		Cron:      []CronRegistration{{Spec: "@every 1h", Task: sweep}},
	})
	require.NoError(t, err)
	assert.NotNil(t, w.scheduler)
}
