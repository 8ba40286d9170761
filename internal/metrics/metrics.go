// Package metrics exposes Prometheus collectors for retrieval, delivery, web
// cache and ingestion activity.
//
// A Metrics value satisfies delivery.Recorder and websearch.Recorder, so the
// same instance is handed to every component. Collectors are registered on a
// private registry; Handler serves it in the Prometheus text format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/fusionrag/pkg/types"
)

const namespace = "fusionrag"

// Retrieval outcomes
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeError    = "error"
)

// Metrics holds the registered collectors
type Metrics struct {
	registry *prometheus.Registry

	retrievals        *prometheus.CounterVec
	retrievalDuration prometheus.Histogram
	notices           *prometheus.CounterVec
	deliveryAttempts  *prometheus.CounterVec
	contextSize       prometheus.Histogram
	deliveries        *prometheus.CounterVec
	backoff           prometheus.Histogram
	webCache          *prometheus.CounterVec
	ingested          *prometheus.CounterVec
}

// New creates and registers the collectors. withRuntime adds the Go runtime
// and process collectors, which the server wants and tests do not.
func New(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		retrievals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Retrieve calls by outcome.",
		}, []string{"outcome"}),
		retrievalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "End-to-end latency of Retrieve calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		notices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_notices_total",
			Help:      "Degradation notices attached to responses.",
		}, []string{"notice"}),
		deliveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "LLM delivery attempts by outcome.",
		}, []string{"outcome"}),
		contextSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_context_entries",
			Help:      "Number of context entries sent per delivery attempt.",
			Buckets:   []float64{1, 2, 5, 10, 15, 20, 30, 50},
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Finished deliveries by final scheduler state.",
		}, []string{"state"}),
		backoff: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_backoff_seconds",
			Help:      "Total time a delivery spent backing off.",
			Buckets:   prometheus.LinearBuckets(0, 2.5, 8),
		}),
		webCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websearch_cache_total",
			Help:      "Web search cache lookups by result.",
		}, []string{"result"}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_items_total",
			Help:      "Items stored by ingestion, by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.retrievals, m.retrievalDuration, m.notices,
		m.deliveryAttempts, m.contextSize, m.deliveries, m.backoff,
		m.webCache, m.ingested,
	)
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry for scraping
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RetrievalFinished records a completed Retrieve call
func (m *Metrics) RetrievalFinished(outcome string, d time.Duration, notices []string) {
	m.retrievals.WithLabelValues(outcome).Inc()
	m.retrievalDuration.Observe(d.Seconds())
	for _, n := range notices {
		m.notices.WithLabelValues(n).Inc()
	}
}

// DeliveryAttempt implements delivery.Recorder
func (m *Metrics) DeliveryAttempt(outcome types.AttemptOutcome, contextSize int) {
	m.deliveryAttempts.WithLabelValues(string(outcome)).Inc()
	m.contextSize.Observe(float64(contextSize))
}

// DeliveryFinished implements delivery.Recorder
func (m *Metrics) DeliveryFinished(state string, sleep time.Duration) {
	m.deliveries.WithLabelValues(state).Inc()
	m.backoff.Observe(sleep.Seconds())
}

// WebCache implements websearch.Recorder
func (m *Metrics) WebCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.webCache.WithLabelValues(result).Inc()
}

// Ingested counts stored documents, chunks or records
func (m *Metrics) Ingested(kind string, n int) {
	if n <= 0 {
		return
	}
	m.ingested.WithLabelValues(kind).Add(float64(n))
}
