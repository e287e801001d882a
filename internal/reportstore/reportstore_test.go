package reportstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/tally/internal/ledger"
	"github.com/MrJamesThe3rd/tally/internal/matching"
	"github.com/MrJamesThe3rd/tally/internal/reconcile"
)

func newStore(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *Store) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, New(client, ttl)
}

func TestStore_SaveAndLatest(t *testing.T) {
	mr, store := newStore(t, time.Hour)
	ctx := context.Background()

	customer := uuid.New()
	scope := ledger.Scope{CompanyID: uuid.New(), CustomerID: &customer}

	report := &reconcile.Report{
		Scope:            scope,
		Mode:             reconcile.ModeAdvisory,
		StartedAt:        time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt:       time.Date(2024, 3, 1, 10, 0, 1, 0, time.UTC),
		PaymentsExamined: 1,
		UnallocatedCount: 1,
		Unallocated: []reconcile.UnallocatedPayment{{
			PaymentID: uuid.New(),
			Amount:    decimal.RequireFromString("1000.50"),
			Remaining: decimal.RequireFromString("1000.50"),
		}},
		Candidates: []reconcile.CandidateMatch{{
			PaymentID:  uuid.New(),
			InvoiceID:  uuid.New(),
			Confidence: matching.ConfidenceHigh,
			Reason:     "payment equals balance due",
		}},
	}

	require.NoError(t, store.Save(ctx, report))
	assert.Equal(t, time.Hour, mr.TTL(Key(scope)))

	got, err := store.Latest(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, reconcile.ModeAdvisory, got.Mode)
	assert.Equal(t, customer, *got.Scope.CustomerID)
	require.Len(t, got.Candidates, 1)
	assert.Equal(t, matching.ConfidenceHigh, got.Candidates[0].Confidence)
	require.Len(t, got.Unallocated, 1)
	assert.True(t, decimal.RequireFromString("1000.50").Equal(got.Unallocated[0].Remaining))

	// Company-wide reports live under their own key.
	_, err = store.Latest(ctx, ledger.Scope{CompanyID: scope.CompanyID})
	assert.ErrorIs(t, err, ErrNoReport)
}

func TestStore_SaveReplaces(t *testing.T) {
	_, store := newStore(t, 0)
	ctx := context.Background()
	scope := ledger.Scope{CompanyID: uuid.New()}

	require.NoError(t, store.Save(ctx, &reconcile.Report{Scope: scope, Mode: reconcile.ModeAdvisory}))
	require.NoError(t, store.Save(ctx, &reconcile.Report{Scope: scope, Mode: reconcile.ModeApply, AllocationsCreated: 2}))

	got, err := store.Latest(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, reconcile.ModeApply, got.Mode)
	assert.Equal(t, 2, got.AllocationsCreated)
}

func TestStore_Errors(t *testing.T) {
	mr, store := newStore(t, time.Minute)
	ctx := context.Background()
	scope := ledger.Scope{CompanyID: uuid.New()}

	assert.Error(t, store.Save(ctx, nil))

	require.NoError(t, mr.Set(Key(scope), "{not json"))
	_, err := store.Latest(ctx, scope)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode report")

	mr.Close()
	_, err = store.Latest(ctx, scope)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoReport)
}
