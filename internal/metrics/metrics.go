// Package metrics exposes Prometheus collectors for retrieval, generation
// and the vector cache. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	retrievalLatency *prometheus.HistogramVec
	retrievalResults *prometheus.HistogramVec
	topSimilarity    *prometheus.HistogramVec
	embedFailures    *prometheus.CounterVec
	generation       *prometheus.HistogramVec
	outcomes         *prometheus.CounterVec
	cacheSize        *prometheus.GaugeVec
	entriesAdded     *prometheus.CounterVec
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		retrievalLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kiku_retrieval_latency_ms",
			Help:    "Latency of retrieval calls in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 200, 500, 1000, 2000},
		}, []string{"corpus"}),
		retrievalResults: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kiku_retrieval_results",
			Help:    "Number of results returned by a retrieval",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		}, []string{"corpus"}),
		topSimilarity: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kiku_retrieval_top_similarity",
			Help:    "Similarity of the best retrieved entry",
			Buckets: []float64{0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0},
		}, []string{"corpus"}),
		embedFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiku_embedding_failures_total",
			Help: "Query embeddings that failed or timed out",
		}, []string{"corpus"}),
		generation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kiku_generation_latency_ms",
			Help:    "Latency of generation calls in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		}, []string{"corpus", "result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiku_chat_outcomes_total",
			Help: "Chat responses by outcome status",
		}, []string{"corpus", "status"}),
		cacheSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kiku_vector_cache_entries",
			Help: "Entries in the published vector cache snapshot",
		}, []string{"corpus"}),
		entriesAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiku_entries_added_total",
			Help: "Entries created through the engine",
		}, []string{"corpus"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.retrievalLatency, m.retrievalResults, m.topSimilarity, m.embedFailures,
		m.generation, m.outcomes, m.cacheSize, m.entriesAdded,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRetrieval records latency, result count and, when results is
// non-zero, the top similarity.
func (m *Metrics) ObserveRetrieval(corpus string, start time.Time, results int, top float64) {
	if m == nil {
		return
	}
	m.retrievalLatency.WithLabelValues(corpus).Observe(float64(time.Since(start).Milliseconds()))
	m.retrievalResults.WithLabelValues(corpus).Observe(float64(results))
	if results > 0 {
		m.topSimilarity.WithLabelValues(corpus).Observe(top)
	}
}

// IncEmbedFailure counts a failed query embedding.
func (m *Metrics) IncEmbedFailure(corpus string) {
	if m == nil {
		return
	}
	m.embedFailures.WithLabelValues(corpus).Inc()
}

// ObserveGeneration records a generation call and whether it failed.
func (m *Metrics) ObserveGeneration(corpus string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.generation.WithLabelValues(corpus, result).Observe(float64(time.Since(start).Milliseconds()))
}

// IncOutcome counts a chat response by status.
func (m *Metrics) IncOutcome(corpus, status string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(corpus, status).Inc()
}

// SetCacheSize records the published snapshot size.
func (m *Metrics) SetCacheSize(corpus string, n int) {
	if m == nil {
		return
	}
	m.cacheSize.WithLabelValues(corpus).Set(float64(n))
}

// IncEntriesAdded counts a created entry.
func (m *Metrics) IncEntriesAdded(corpus string) {
	if m == nil {
		return
	}
	m.entriesAdded.WithLabelValues(corpus).Inc()
}
