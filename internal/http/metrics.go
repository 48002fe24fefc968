package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"karaoke/internal/core"
)

// Metrics collects party operation metrics on its own registry, so several
// servers (and tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	DuplicatesTotal   prometheus.Counter
	RepairsTotal      *prometheus.CounterVec
	EvictionsTotal    prometheus.Counter
	StoreErrorsTotal  *prometheus.CounterVec
	RateLimitedTotal  prometheus.Counter
	ActiveSessions    prometheus.Gauge
	Subscribers       prometheus.Gauge
}

var _ core.Recorder = (*Metrics)(nil)

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "karaoke_operations_total",
				Help: "Total number of party operations by outcome",
			},
			[]string{"op", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "karaoke_operation_duration_seconds",
				Help:    "Time spent in party operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		DuplicatesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "karaoke_duplicates_total",
				Help: "Total number of duplicate requests rejected",
			},
		),
		RepairsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "karaoke_repaired_items_total",
				Help: "Total number of records rewritten by order repair",
			},
			[]string{"collection"},
		),
		EvictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "karaoke_history_evictions_total",
				Help: "Total number of history entries evicted by retention",
			},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "karaoke_store_errors_total",
				Help: "Total number of operations failed by the store",
			},
			[]string{"component"},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "karaoke_rate_limited_total",
				Help: "Total number of requests rejected by flood control",
			},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "karaoke_active_sessions",
				Help: "Number of open party sessions",
			},
		),
		Subscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "karaoke_subscribers",
				Help: "Number of connected live update streams",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.OperationsTotal,
		m.OperationDuration,
		m.DuplicatesTotal,
		m.RepairsTotal,
		m.EvictionsTotal,
		m.StoreErrorsTotal,
		m.RateLimitedTotal,
		m.ActiveSessions,
		m.Subscribers,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordOperation(op, status string, duration time.Duration) {
	m.OperationsTotal.WithLabelValues(op, status).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(duration.Seconds())

	switch status {
	case "duplicate":
		m.DuplicatesTotal.Inc()
	case "store_unavailable", "timeout":
		component, _, _ := strings.Cut(op, ".")
		m.StoreErrorsTotal.WithLabelValues(component).Inc()
	}
}

func (m *Metrics) RecordRepair(collection string, fixed int) {
	m.RepairsTotal.WithLabelValues(collection).Add(float64(fixed))
}

func (m *Metrics) RecordEviction(count int) {
	m.EvictionsTotal.Add(float64(count))
}

func (m *Metrics) RecordRateLimited() {
	m.RateLimitedTotal.Inc()
}

func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}
