// Package metrics defines the Prometheus collectors exported by the cache.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "offlinecache"

// Strategy outcomes.
const (
	OutcomeCacheHit          = "cache_hit"
	OutcomeNetwork           = "network"
	OutcomeCacheFallback     = "cache_fallback"
	OutcomePrecachedFallback = "precached_fallback"
	OutcomeRootFallback      = "root_fallback"
	OutcomeOfflinePage       = "offline_page"
	OutcomeOfflineText       = "offline_text"
	OutcomePassthrough       = "passthrough"
	OutcomeLocalAnswer       = "local_answer"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	lookups         *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	offlineAnswers  *prometheus.CounterVec
	partitionsPurge prometheus.Counter
	snapshotSaves   prometheus.Counter
	active          prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Intercepted requests by route, strategy and outcome.",
		}, []string{"route", "strategy", "outcome"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Partition lookups by partition and result (hit or miss).",
		}, []string{"partition", "result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_refreshes_total",
			Help:      "Stale-while-revalidate background refreshes by result.",
		}, []string{"result"}),
		offlineAnswers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_mutation_answers_total",
			Help:      "Non-GET requests answered locally, by endpoint handler.",
		}, []string{"handler"}),
		partitionsPurge: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partitions_deleted_total",
			Help:      "Stale partitions deleted during activation.",
		}),
		snapshotSaves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_saves_total",
			Help:      "Inventory snapshot writes.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_active",
			Help:      "1 once the current version has been activated and claims requests.",
		}),
	}
	m.registry.MustRegister(
		m.requests, m.lookups, m.refreshes, m.offlineAnswers,
		m.partitionsPurge, m.snapshotSaves, m.active,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest counts one routed request.
func (m *Metrics) RecordRequest(route, strategy, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strategy, outcome).Inc()
}

// RecordLookup counts a partition hit or miss.
func (m *Metrics) RecordLookup(partition string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.WithLabelValues(partition, result).Inc()
}

// RecordRefresh counts a background refresh result ("success", "failure",
// "evicted").
func (m *Metrics) RecordRefresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

// RecordOfflineAnswer counts a locally synthesized mutation response.
func (m *Metrics) RecordOfflineAnswer(handler string) {
	if m == nil {
		return
	}
	m.offlineAnswers.WithLabelValues(handler).Inc()
}

// RecordPartitionsDeleted adds n purged partitions.
func (m *Metrics) RecordPartitionsDeleted(n int) {
	if m == nil {
		return
	}
	m.partitionsPurge.Add(float64(n))
}

// RecordSnapshotSave counts a snapshot write.
func (m *Metrics) RecordSnapshotSave() {
	if m == nil {
		return
	}
	m.snapshotSaves.Inc()
}

// SetActive flips the active gauge.
func (m *Metrics) SetActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.active.Set(1)
	} else {
		m.active.Set(0)
	}
}
