// Package reportstore keeps the latest reconciliation report of each scope in
// Redis.
package reportstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrJamesThe3rd/tally/internal/ledger"
	"github.com/MrJamesThe3rd/tally/internal/reconcile"
)

var ErrNoReport = errors.New("reportstore: no report for scope")

const DefaultTTL = 7 * 24 * time.Hour

func Key(scope ledger.Scope) string {
	if scope.CustomerID != nil {
		return fmt.Sprintf("reconcile:report:%s:%s", scope.CompanyID, *scope.CustomerID)
	}

	return fmt.Sprintf("reconcile:report:%s", scope.CompanyID)
}

type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func New(client redis.UniversalClient, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Store{client: client, ttl: ttl}
}

// Save replaces the latest report for the report's scope.
func (s *Store) Save(ctx context.Context, report *reconcile.Report) error {
	if report == nil {
		return errors.New("reportstore: nil report")
	}

	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	if err := s.client.Set(ctx, Key(report.Scope), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save report: %w", err)
	}

	return nil
}

func (s *Store) Latest(ctx context.Context, scope ledger.Scope) (*reconcile.Report, error) {
	raw, err := s.client.Get(ctx, Key(scope)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoReport
	}

	if err != nil {
		return nil, fmt.Errorf("load report: %w", err)
	}

	var report reconcile.Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}

	return &report, nil
}
