package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mnemo"

// Metrics holds the prometheus collectors for the cache, store and exemplar paths.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	CacheLookups     *prometheus.CounterVec
	Flushes          *prometheus.CounterVec
	FlushedRecords   prometheus.Counter
	StoreResults     *prometheus.CounterVec
	ScorerDegraded   prometheus.Counter
	SweepDeletions   *prometheus.CounterVec
	FindResultCounts *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Record lookups by serving tier and result.",
		}, []string{"tier", "result"}),
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_flushes_total",
			Help:      "Cache flushes into the durable store by trigger.",
		}, []string{"trigger"}),
		FlushedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_flushed_records_total",
			Help:      "Records upserted into the durable store by flushes.",
		}),
		StoreResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "example_store_results_total",
			Help:      "Exemplar store attempts by result status.",
		}, []string{"status"}),
		ScorerDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scorer_degraded_total",
			Help:      "Rerank calls that failed and fell back to prefilter scores.",
		}),
		SweepDeletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_deletions_total",
			Help:      "Exemplars removed by housekeeping sweeps by reason.",
		}, []string{"reason"}),
		FindResultCounts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "find_results",
			Help:      "Exemplars returned per find call by label.",
			Buckets:   []float64{0, 1, 2, 3, 5, 10},
		}, []string{"label"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.CacheLookups,
			m.Flushes,
			m.FlushedRecords,
			m.StoreResults,
			m.ScorerDegraded,
			m.SweepDeletions,
			m.FindResultCounts,
		)
	}
	return m
}

// ObserveCacheLookup records a lookup served by tier ("cache" or "store").
func (m *Metrics) ObserveCacheLookup(tier string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(tier, result).Inc()
}

// ObserveFlush records a completed flush of n records.
func (m *Metrics) ObserveFlush(trigger string, n int) {
	if m == nil {
		return
	}
	m.Flushes.WithLabelValues(trigger).Inc()
	m.FlushedRecords.Add(float64(n))
}

// ObserveStoreResult records the terminal status of a store attempt.
func (m *Metrics) ObserveStoreResult(status string) {
	if m == nil {
		return
	}
	m.StoreResults.WithLabelValues(status).Inc()
}

// ObserveScorerDegraded records a rerank fallback.
func (m *Metrics) ObserveScorerDegraded() {
	if m == nil {
		return
	}
	m.ScorerDegraded.Inc()
}

// ObserveSweepDeletions records n deletions by a sweep.
func (m *Metrics) ObserveSweepDeletions(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.SweepDeletions.WithLabelValues(reason).Add(float64(n))
}

// ObserveFindResults records the size of one label's result list.
func (m *Metrics) ObserveFindResults(label string, n int) {
	if m == nil {
		return
	}
	m.FindResultCounts.WithLabelValues(label).Observe(float64(n))
}
