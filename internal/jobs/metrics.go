package jobs

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrJamesThe3rd/tally/internal/reconcile"
)

// Metrics holds the Prometheus collectors for reconciliation jobs.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	allocations *prometheus.CounterVec
	itemErrors  *prometheus.CounterVec
	unallocated *prometheus.GaugeVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the collectors on registerer, or once on the default
// registerer when it is nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})

		return defaultMetrics
	}

	return buildMetrics(registerer)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_jobs_total",
			Help: "Reconciliation job executions by task type and status.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_jobs_failures_total",
			Help: "Failed reconciliation job executions.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tally_job_duration_seconds",
			Help:    "Duration of reconciliation job executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_allocations_created_total",
			Help: "Allocations written by reconciliation jobs.",
		}, []string{"job"}),
		itemErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_item_errors_total",
			Help: "Per-item failures reported by reconciliation jobs.",
		}, []string{"job"}),
		unallocated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tally_unallocated_payments",
			Help: "Payments with a remaining amount after the latest run, by company.",
		}, []string{"company"}),
	}

	registerer.MustRegister(m.runs, m.failures, m.duration, m.allocations, m.itemErrors, m.unallocated)

	return m
}

// Tracker times a single job execution.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the outcome and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}

	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}

	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())

	return err
}

// ObserveReport records the outcome counters of a finished report.
func (m *Metrics) ObserveReport(job string, report *reconcile.Report) {
	if m == nil || report == nil {
		return
	}

	m.allocations.WithLabelValues(job).Add(float64(report.AllocationsCreated))
	m.itemErrors.WithLabelValues(job).Add(float64(len(report.Errors)))

	// Only company-wide reports describe the whole company.
	if report.Scope.CustomerID == nil && !report.Fatal {
		m.unallocated.WithLabelValues(report.Scope.CompanyID.String()).Set(float64(report.UnallocatedCount))
	}
}
