package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the harvester.
type Metrics struct {
	Registry            *prometheus.Registry
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     prometheus.Histogram
	CacheHitsTotal      prometheus.Counter
	ItemsExtractedTotal *prometheus.CounterVec
	FallbacksTotal      *prometheus.CounterVec
	StagesTotal         *prometheus.CounterVec
	AssetsTotal         *prometheus.CounterVec
	ErrorsTotal         *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_requests_total",
			Help: "Total HTTP requests issued by outcome.",
		},
		[]string{"outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_page_cache_hits_total",
			Help: "Pages served from the in-run page cache.",
		},
	)
	items := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_items_extracted_total",
			Help: "Records extracted by entity kind.",
		},
		[]string{"kind"},
	)
	fallbacks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_fallbacks_total",
			Help: "Secondary sources consulted after the primary rule missed.",
		},
		[]string{"kind"},
	)
	stages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_stages_total",
			Help: "Work unit stages by result.",
		},
		[]string{"stage", "result"},
	)
	assets := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_assets_total",
			Help: "Binary asset downloads by result.",
		},
		[]string{"result"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_errors_total",
			Help: "Total number of errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, requestDuration, cacheHits, items, fallbacks, stages, assets, errorsTotal)

	return &Metrics{
		Registry:            registry,
		RequestsTotal:       requests,
		RequestDuration:     requestDuration,
		CacheHitsTotal:      cacheHits,
		ItemsExtractedTotal: items,
		FallbacksTotal:      fallbacks,
		StagesTotal:         stages,
		AssetsTotal:         assets,
		ErrorsTotal:         errorsTotal,
	}
}

// IncRequest increments the requests counter for an outcome.
func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncCacheHit increments the page cache hit counter.
func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// AddItems adds n extracted records of a kind.
func (m *Metrics) AddItems(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsExtractedTotal.WithLabelValues(kind).Add(float64(n))
}

// IncFallback increments the fallback counter for a rule kind.
func (m *Metrics) IncFallback(kind string) {
	if m == nil {
		return
	}
	m.FallbacksTotal.WithLabelValues(kind).Inc()
}

// IncStage increments the stage counter.
func (m *Metrics) IncStage(stage, result string) {
	if m == nil {
		return
	}
	m.StagesTotal.WithLabelValues(stage, result).Inc()
}

// IncAsset increments the asset counter for a result.
func (m *Metrics) IncAsset(result string) {
	if m == nil {
		return
	}
	m.AssetsTotal.WithLabelValues(result).Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
