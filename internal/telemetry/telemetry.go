// Package telemetry exposes local Prometheus metrics for the sync core.
// Metrics are only served on the local /metrics endpoint; nothing is pushed
// to a remote collector.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wzl2223096755/AFitness-sub001/internal/models"
)

const (
	namespace = "afitness"
	subsystem = "sync"
)

// Drain outcomes.
const (
	OutcomeCompleted   = "completed"
	OutcomeFailed      = "failed"
	OutcomeInterrupted = "interrupted"
)

// Metrics holds the sync collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	itemsSent    *prometheus.CounterVec
	itemsFailed  *prometheus.CounterVec
	retries      prometheus.Counter
	drains       *prometheus.CounterVec
	drainSeconds prometheus.Histogram
	queueDepth   *prometheus.GaugeVec
	online       prometheus.Gauge
}

// New registers the sync collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		itemsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "items_sent_total",
			Help:      "Queued items accepted by the backend",
		}, []string{"domain", "action"}),
		itemsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "items_failed_total",
			Help:      "Failed send attempts",
		}, []string{"domain", "action", "terminal"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retries_total",
			Help:      "Send attempts repeated after a retryable failure",
		}),
		drains: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "drains_total",
			Help:      "Queue drains by outcome",
		}, []string{"outcome"}),
		drainSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "drain_duration_seconds",
			Help:      "Duration of queue drains",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_items",
			Help:      "Items held by the queue by status",
		}, []string{"status"}),
		online: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "online",
			Help:      "1 when the backend is reachable",
		}),
	}
}

// Handler serves the collected metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// =====================================================
// Recording
// =====================================================

func (m *Metrics) ItemSent(item models.SyncItem) {
	if m == nil {
		return
	}
	m.itemsSent.WithLabelValues(string(item.Domain), string(item.Action)).Inc()
}

func (m *Metrics) ItemFailed(item models.SyncItem, terminal bool) {
	if m == nil {
		return
	}
	t := "false"
	if terminal {
		t = "true"
	}
	m.itemsFailed.WithLabelValues(string(item.Domain), string(item.Action), t).Inc()
	if !terminal {
		m.retries.Inc()
	}
}

func (m *Metrics) DrainFinished(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.drains.WithLabelValues(outcome).Inc()
	m.drainSeconds.Observe(seconds)
}

func (m *Metrics) QueueStats(s models.QueueStats) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(string(models.ItemStatusPending)).Set(float64(s.Pending))
	m.queueDepth.WithLabelValues(string(models.ItemStatusInFlight)).Set(float64(s.InFlight))
	m.queueDepth.WithLabelValues(string(models.ItemStatusFailed)).Set(float64(s.Failed))
	m.queueDepth.WithLabelValues(string(models.ItemStatusDone)).Set(float64(s.Done))
}

func (m *Metrics) Online(online bool) {
	if m == nil {
		return
	}
	if online {
		m.online.Set(1)
	} else {
		m.online.Set(0)
	}
}
