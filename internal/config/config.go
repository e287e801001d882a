package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App struct {
		Name           string   `envconfig:"APP_NAME" default:"Tally"`
		Port           int      `envconfig:"PORT" default:"8080"`
		AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`
	}

	DB struct {
		Host     string `envconfig:"DB_HOST" default:"localhost"`
		Port     int    `envconfig:"DB_PORT" default:"5432"`
		User     string `envconfig:"DB_USER" default:"postgres"`
		Password string `envconfig:"DB_PASSWORD" default:""`
		Name     string `envconfig:"DB_NAME" default:"tally"`
	}

	Redis struct {
		Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
		Password string `envconfig:"REDIS_PASSWORD" default:""`
		DB       int    `envconfig:"REDIS_DB" default:"0"`
	}

	Server struct {
		Timeout time.Duration `envconfig:"SERVER_TIMEOUT" default:"30s"`
	}

	Reconcile struct {
		LookbackMonths int             `envconfig:"RECONCILE_LOOKBACK_MONTHS" default:"6"`
		Epsilon        decimal.Decimal `envconfig:"RECONCILE_EPSILON" default:"0.01"`
		LockTTL        time.Duration   `envconfig:"RECONCILE_LOCK_TTL" default:"10m"`
		ReportTTL      time.Duration   `envconfig:"RECONCILE_REPORT_TTL" default:"168h"`
	}

	Worker struct {
		Concurrency    int      `envconfig:"WORKER_CONCURRENCY" default:"5"`
		SweepCron      string   `envconfig:"WORKER_SWEEP_CRON" default:"0 2 * * *"`
		SweepCompanies []string `envconfig:"WORKER_SWEEP_COMPANIES"`
		MetricsPort    int      `envconfig:"WORKER_METRICS_PORT" default:"9090"`
	}

	Log struct {
		Format string `envconfig:"LOG_FORMAT" default:"text"`
		Level  string `envconfig:"LOG_LEVEL" default:"info"`
	}
}

func (c *Config) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name)
}

// SweepCompanyIDs parses the companies the nightly sweep covers.
func (c *Config) SweepCompanyIDs() ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(c.Worker.SweepCompanies))

	for _, s := range c.Worker.SweepCompanies {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}

		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse sweep company %q: %w", s, err)
		}

		ids = append(ids, id)
	}

	return ids, nil
}

// NewLogger builds the process logger from the Log section.
func (c *Config) NewLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if cfg.Reconcile.Epsilon.IsNegative() {
		return nil, fmt.Errorf("failed to process config: RECONCILE_EPSILON must not be negative")
	}

	return &cfg, nil
}
