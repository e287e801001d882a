package scopelock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/tally/internal/ledger"
)

func setup(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestKey(t *testing.T) {
	company := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	customer := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	assert.Equal(t, "reconcile:scope:11111111-1111-1111-1111-111111111111:lock", Key(ledger.Scope{CompanyID: company}))
	assert.Equal(t,
		"reconcile:scope:11111111-1111-1111-1111-111111111111:lock",
		Key(ledger.Scope{CompanyID: company, CustomerID: &customer}),
	)
}

func TestLocker_CompanyAndCustomerScopesExcludeEachOther(t *testing.T) {
	_, client := setup(t)
	locker := New(client, time.Minute)
	ctx := context.Background()

	companyID := uuid.New()
	customer := uuid.New()
	companyScope := ledger.Scope{CompanyID: companyID}
	customerScope := ledger.Scope{CompanyID: companyID, CustomerID: &customer}

	companyLock, err := locker.Acquire(ctx, companyScope)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, customerScope)
	assert.ErrorIs(t, err, ErrScopeBusy)

	require.NoError(t, companyLock.Release(ctx))

	customerLock, err := locker.Acquire(ctx, customerScope)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, companyScope)
	assert.ErrorIs(t, err, ErrScopeBusy)

	otherCompany := ledger.Scope{CompanyID: uuid.New(), CustomerID: &customer}
	otherLock, err := locker.Acquire(ctx, otherCompany)
	require.NoError(t, err)

	require.NoError(t, otherLock.Release(ctx))
	require.NoError(t, customerLock.Release(ctx))
}

func TestLocker_Acquire(t *testing.T) {
	mr, client := setup(t)
	locker := New(client, time.Minute)
	ctx := context.Background()
	scope := ledger.Scope{CompanyID: uuid.New()}

	lock, err := locker.Acquire(ctx, scope)
	require.NoError(t, err)
	assert.True(t, mr.Exists(Key(scope)))
	assert.Equal(t, time.Minute, mr.TTL(Key(scope)))

	_, err = locker.Acquire(ctx, scope)
	assert.ErrorIs(t, err, ErrScopeBusy)

	other := ledger.Scope{CompanyID: uuid.New()}
	otherLock, err := locker.Acquire(ctx, other)
	require.NoError(t, err)
	require.NoError(t, otherLock.Release(ctx))

	require.NoError(t, lock.Release(ctx))
	assert.False(t, mr.Exists(Key(scope)))

	again, err := locker.Acquire(ctx, scope)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocker_ExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	mr, client := setup(t)
	locker := New(client, time.Second)
	ctx := context.Background()
	scope := ledger.Scope{CompanyID: uuid.New()}

	stale, err := locker.Acquire(ctx, scope)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	current, err := locker.Acquire(ctx, scope)
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))
	assert.True(t, mr.Exists(Key(scope)), "stale holder must not delete the new lock")

	require.NoError(t, current.Release(ctx))
	assert.False(t, mr.Exists(Key(scope)))
}

func TestLocker_WithLock(t *testing.T) {
	mr, client := setup(t)
	locker := New(client, 0)
	ctx := context.Background()
	scope := ledger.Scope{CompanyID: uuid.New()}

	boom := errors.New("boom")

	err := locker.WithLock(ctx, scope, func(ctx context.Context) error {
		assert.True(t, mr.Exists(Key(scope)))
		assert.Equal(t, DefaultTTL, mr.TTL(Key(scope)))

		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(Key(scope)))

	held, err := locker.Acquire(ctx, scope)
	require.NoError(t, err)

	called := false
	err = locker.WithLock(ctx, scope, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrScopeBusy)
	assert.False(t, called)

	require.NoError(t, held.Release(ctx))
}

func TestLocker_RedisDown(t *testing.T) {
	mr, client := setup(t)
	locker := New(client, time.Minute)

	mr.Close()

	_, err := locker.Acquire(context.Background(), ledger.Scope{CompanyID: uuid.New()})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrScopeBusy)
}
