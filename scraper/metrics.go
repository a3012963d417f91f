package scraper

import (
	"time"

	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for extraction and reconciliation.
type Metrics struct {
	Registry         *prometheus.Registry
	PageLoadsTotal   *prometheus.CounterVec
	PageLoadDuration *prometheus.HistogramVec
	ItemsTotal       *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
	CacheDecisions   *prometheus.CounterVec
	UpsertsTotal     *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	pageLoads := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_page_loads_total",
			Help: "Total pages rendered, by stage.",
		},
		[]string{"stage"},
	)
	pageLoadDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_page_load_duration_seconds",
			Help:    "Page render latency, including settle time.",
			Buckets: []float64{0.25, 0.5, 1, 2, 3, 5, 8, 13, 21, 30},
		},
		[]string{"stage"},
	)
	items := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_items_extracted_total",
			Help: "Total records extracted, by stage.",
		},
		[]string{"stage"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of extraction errors by type.",
		},
		[]string{"error_type"},
	)
	cacheDecisions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_cache_decisions_total",
			Help: "Cache policy outcomes, by stage and result (hit, miss, forced).",
		},
		[]string{"stage", "result"},
	)
	upserts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_upserts_total",
			Help: "Records written by the reconciler, by entity and operation.",
		},
		[]string{"entity", "op"},
	)

	registry.MustRegister(pageLoads, pageLoadDuration, items, errorsTotal, cacheDecisions, upserts)

	return &Metrics{
		Registry:         registry,
		PageLoadsTotal:   pageLoads,
		PageLoadDuration: pageLoadDuration,
		ItemsTotal:       items,
		ErrorsTotal:      errorsTotal,
		CacheDecisions:   cacheDecisions,
		UpsertsTotal:     upserts,
	}
}

// ObservePageLoad counts a page load and records its duration.
func (m *Metrics) ObservePageLoad(stage models.Stage, d time.Duration) {
	if m == nil {
		return
	}
	m.PageLoadsTotal.WithLabelValues(string(stage)).Inc()
	m.PageLoadDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
}

// AddItems adds n to the extracted items counter.
func (m *Metrics) AddItems(stage models.Stage, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsTotal.WithLabelValues(string(stage)).Add(float64(n))
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncCache records a cache decision.
func (m *Metrics) IncCache(stage models.Stage, result string) {
	if m == nil {
		return
	}
	m.CacheDecisions.WithLabelValues(string(stage), result).Inc()
}

// IncUpsert records one reconciler write.
func (m *Metrics) IncUpsert(entity, op string) {
	if m == nil {
		return
	}
	m.UpsertsTotal.WithLabelValues(entity, op).Inc()
}
