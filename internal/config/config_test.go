package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, 6, cfg.Reconcile.LookbackMonths)
	assert.True(t, decimal.RequireFromString("0.01").Equal(cfg.Reconcile.Epsilon))
	assert.Equal(t, 10*time.Minute, cfg.Reconcile.LockTTL)
	assert.Equal(t, "postgres://postgres:@localhost:5432/tally?sslmode=disable", cfg.ConnectionString())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("RECONCILE_LOOKBACK_MONTHS", "12")
	t.Setenv("RECONCILE_EPSILON", "0.005")
	t.Setenv("WORKER_SWEEP_COMPANIES", "6a0d2c44-9c1e-4c8f-8b43-5f1e2d3c4001,6a0d2c44-9c1e-4c8f-8b43-5f1e2d3c4002")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Reconcile.LookbackMonths)
	assert.True(t, decimal.RequireFromString("0.005").Equal(cfg.Reconcile.Epsilon))

	ids, err := cfg.SweepCompanyIDs()
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	logger := cfg.NewLogger()
	assert.IsType(t, &slog.JSONHandler{}, logger.Handler())
	assert.True(t, logger.Enabled(t.Context(), slog.LevelDebug))
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("RECONCILE_EPSILON", "-1")

	_, err := Load()
	assert.Error(t, err)
}

func TestSweepCompanyIDs_Invalid(t *testing.T) {
	var cfg Config
	cfg.Worker.SweepCompanies = []string{"acme"}

	_, err := cfg.SweepCompanyIDs()
	assert.Error(t, err)
}
