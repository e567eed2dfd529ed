// Package metrics defines the Prometheus metric collectors used across the
// collector and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the collector service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	RunsStartedTotal     prometheus.Counter
	RunsFinalizedTotal   *prometheus.CounterVec
	TasksProcessedTotal  *prometheus.CounterVec
	ArticlesFetchedTotal *prometheus.CounterVec
	ArticlesFailedTotal  prometheus.Counter
	ChunksIndexedTotal   prometheus.Counter
	EndpointBlocksTotal  prometheus.Counter
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   *prometheus.HistogramVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		RunsStartedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ingestion_runs_started_total",
				Help: "Total ingestion runs started.",
			},
		),
		RunsFinalizedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingestion_runs_finalized_total",
				Help: "Total ingestion runs finalized by terminal status.",
			},
			[]string{"status"},
		),
		TasksProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingestion_tasks_processed_total",
				Help: "Total endpoint tasks processed by terminal log status.",
			},
			[]string{"status"},
		),
		ArticlesFetchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "articles_fetched_total",
				Help: "Total articles fetched from sources by source kind.",
			},
			[]string{"source_kind"},
		),
		ArticlesFailedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "articles_failed_total",
				Help: "Total articles that failed processing.",
			},
		),
		ChunksIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chunks_indexed_total",
				Help: "Total article chunks written to the vector store.",
			},
		),
		EndpointBlocksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "endpoint_blocks_total",
				Help: "Total times an endpoint was blocked after repeated block signals.",
			},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Vector search latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
			[]string{},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses.",
			},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.RunsStartedTotal,
		m.RunsFinalizedTotal,
		m.TasksProcessedTotal,
		m.ArticlesFetchedTotal,
		m.ArticlesFailedTotal,
		m.ChunksIndexedTotal,
		m.EndpointBlocksTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
