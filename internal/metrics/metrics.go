// Package metrics wires Prometheus collectors for the runtime's hot paths.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jswanson6857/shop-analytics/internal/broadcast"
)

// Metrics owns the process registry and the collectors the services report
// into. One instance per process; services receive it through their options.
type Metrics struct {
	registry *prometheus.Registry

	ingestTotal   *prometheus.CounterVec
	ingestBytes   prometheus.Counter
	ingestLatency prometheus.Histogram

	broadcastDelivered prometheus.Counter
	broadcastStale     prometheus.Counter
	broadcastTransient prometheus.Counter
	broadcastFiltered  prometheus.Counter
	broadcastLatency   prometheus.Histogram

	historyQueries *prometheus.CounterVec
	historyLatency prometheus.Histogram

	storageWrites  prometheus.Histogram
	storageReads   prometheus.Histogram
	storageCommits prometheus.Histogram

	connectionsActive prometheus.Gauge
	eventsReaped      prometheus.Counter
}

// New builds the registry and registers every collector, including the
// standard Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_ingest_hooks_total",
			Help: "Hooks accepted, by classified source.",
		}, []string{"source"}),
		ingestBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shop_ingest_bytes_total",
			Help: "Raw hook body bytes accepted.",
		}),
		ingestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shop_ingest_duration_seconds",
			Help:    "Time from hook receipt to durable store.",
			Buckets: prometheus.DefBuckets,
		}),
		broadcastDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shop_broadcast_delivered_total",
			Help: "Successful event deliveries to subscribers.",
		}),
		broadcastStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shop_broadcast_stale_total",
			Help: "Deliveries that found the connection gone.",
		}),
		broadcastTransient: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shop_broadcast_transient_failures_total",
			Help: "Deliveries that failed transiently and were not retried.",
		}),
		broadcastFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shop_broadcast_filtered_total",
			Help: "Deliveries skipped by a connection filter.",
		}),
		broadcastLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shop_broadcast_duration_seconds",
			Help:    "Wall time of one full fan-out.",
			Buckets: prometheus.DefBuckets,
		}),
		historyQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_history_queries_total",
			Help: "History queries served, by mode and outcome.",
		}, []string{"mode", "outcome"}),
		historyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shop_history_duration_seconds",
			Help:    "History query latency.",
			Buckets: prometheus.DefBuckets,
		}),
		storageWrites: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shop_storage_write_duration_seconds",
			Help:    "Single-key write latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		storageReads: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shop_storage_read_duration_seconds",
			Help:    "Point read latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		storageCommits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shop_storage_batch_commit_duration_seconds",
			Help:    "Batch commit latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shop_connections_active",
			Help: "Registered subscriber connections with a live lease.",
		}),
		eventsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shop_events_reaped_total",
			Help: "Events removed by the expiry reaper.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ingestTotal, m.ingestBytes, m.ingestLatency,
		m.broadcastDelivered, m.broadcastStale, m.broadcastTransient,
		m.broadcastFiltered, m.broadcastLatency,
		m.historyQueries, m.historyLatency,
		m.storageWrites, m.storageReads, m.storageCommits,
		m.connectionsActive, m.eventsReaped,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveIngest implements ingest.MetricsHook.
func (m *Metrics) ObserveIngest(source string, bytes int, elapsed time.Duration) {
	m.ingestTotal.WithLabelValues(source).Inc()
	m.ingestBytes.Add(float64(bytes))
	m.ingestLatency.Observe(elapsed.Seconds())
}

// ObserveBroadcast implements broadcast.MetricsHook.
func (m *Metrics) ObserveBroadcast(r broadcast.Result, elapsed time.Duration) {
	m.broadcastDelivered.Add(float64(r.Delivered))
	m.broadcastStale.Add(float64(r.Stale))
	m.broadcastTransient.Add(float64(r.Transient))
	m.broadcastFiltered.Add(float64(r.Filtered))
	m.broadcastLatency.Observe(elapsed.Seconds())
}

// ObserveHistory records one served history query.
func (m *Metrics) ObserveHistory(mode, outcome string, elapsed time.Duration) {
	m.historyQueries.WithLabelValues(mode, outcome).Inc()
	m.historyLatency.Observe(elapsed.Seconds())
}

// ObserveWrite implements the storage metrics hook.
func (m *Metrics) ObserveWrite(elapsed time.Duration, bytes int) {
	m.storageWrites.Observe(elapsed.Seconds())
}

// ObserveRead implements the storage metrics hook.
func (m *Metrics) ObserveRead(elapsed time.Duration, bytes int) {
	m.storageReads.Observe(elapsed.Seconds())
}

// ObserveBatchCommit implements the storage metrics hook.
func (m *Metrics) ObserveBatchCommit(elapsed time.Duration, bytes int) {
	m.storageCommits.Observe(elapsed.Seconds())
}

// SetActiveConnections updates the live connection gauge.
func (m *Metrics) SetActiveConnections(n int) {
	m.connectionsActive.Set(float64(n))
}

// AddReaped counts events removed by the expiry reaper.
func (m *Metrics) AddReaped(n int) {
	m.eventsReaped.Add(float64(n))
}
