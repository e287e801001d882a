// Package scopelock keeps a single writer per reconciliation scope with a
// Redis lock.
package scopelock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrJamesThe3rd/tally/internal/ledger"
)

// ErrScopeBusy is returned when another run holds the scope.
var ErrScopeBusy = errors.New("scopelock: scope is being reconciled")

const DefaultTTL = 10 * time.Minute

// Only the holder's token may delete the key.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Key builds the redis key guarding a scope. A customer scope shares its
// company's key: a company-wide repair recalculates that customer's invoices
// too, so the two must never write at the same time.
func Key(scope ledger.Scope) string {
	return fmt.Sprintf("reconcile:scope:%s:lock", scope.CompanyID)
}

type Locker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func New(client redis.UniversalClient, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Locker{client: client, ttl: ttl}
}

// Lock is a held scope lock.
type Lock struct {
	client redis.UniversalClient
	key    string
	token  string
}

// Acquire takes the scope lock or fails with ErrScopeBusy. The lock expires
// after the TTL so a crashed holder cannot block the scope forever.
func (l *Locker) Acquire(ctx context.Context, scope ledger.Scope) (*Lock, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	key := Key(scope)

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire scope lock: %w", err)
	}

	if !ok {
		return nil, ErrScopeBusy
	}

	return &Lock{client: l.client, key: key, token: token}, nil
}

// Release deletes the lock if it is still ours. Releasing an expired or
// foreign lock is a no-op.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}

	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release scope lock: %w", err)
	}

	return nil
}

// WithLock runs fn while holding the scope lock.
func (l *Locker) WithLock(ctx context.Context, scope ledger.Scope, fn func(ctx context.Context) error) error {
	lock, err := l.Acquire(ctx, scope)
	if err != nil {
		return err
	}

	defer func() {
		// Release on a fresh context: fn may have been cancelled.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		_ = lock.Release(releaseCtx)
	}()

	return fn(ctx)
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}

	return hex.EncodeToString(buf), nil
}
