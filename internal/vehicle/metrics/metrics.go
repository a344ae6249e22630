package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the vehicle listing.
type Metrics struct {
	ListDuration  *prometheus.HistogramVec
	RowsReturned  prometheus.Histogram
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	CacheErrors   prometheus.Counter
	CacheBypassed prometheus.Counter
}

// New registers the vehicle metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ListDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vehicleinfo_list_duration_seconds",
			Help:    "Duration of vehicle list operations by outcome and cache source",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"outcome", "source"}),
		RowsReturned: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vehicleinfo_list_rows_returned",
			Help:    "Number of rows in a returned vehicle page",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "vehicleinfo_cache_hits_total",
			Help: "Vehicle pages served from cache",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "vehicleinfo_cache_misses_total",
			Help: "Vehicle page lookups that missed the cache",
		}),
		CacheErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "vehicleinfo_cache_errors_total",
			Help: "Cache operations that failed or returned a corrupt payload",
		}),
		CacheBypassed: f.NewCounter(prometheus.CounterOpts{
			Name: "vehicleinfo_cache_bypassed_total",
			Help: "Cache lookups skipped while the cache circuit breaker was open",
		}),
	}
}

// ObserveList records a completed list operation. Nil-safe.
func (m *Metrics) ObserveList(start time.Time, outcome, source string) {
	if m == nil {
		return
	}
	m.ListDuration.WithLabelValues(outcome, source).Observe(time.Since(start).Seconds())
}

// ObserveRows records the size of a returned page. Nil-safe.
func (m *Metrics) ObserveRows(n int) {
	if m == nil {
		return
	}
	m.RowsReturned.Observe(float64(n))
}

func (m *Metrics) IncCacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) IncCacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) IncCacheError() {
	if m != nil {
		m.CacheErrors.Inc()
	}
}

func (m *Metrics) IncCacheBypassed() {
	if m != nil {
		m.CacheBypassed.Inc()
	}
}
