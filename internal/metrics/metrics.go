// Package metrics declares the Prometheus metrics for the cache,
// coalescer, and executor subsystems, grounded on
// internal/adapter/nlm.Metrics's shape: a single Metrics struct holding
// all three subsystems' collectors, a mokuro_online_ prefix,
// nil-receiver methods that no-op so callers
// never have to nil-check a *Metrics before recording.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every Prometheus collector the service registers.
type Metrics struct {
	CacheHitsTotal    *prometheus.CounterVec
	CacheEntryCount   prometheus.Gauge
	CacheBytesTotal   prometheus.Gauge
	CacheEvictedTotal *prometheus.CounterVec

	CoalescerInFlight        prometheus.Gauge
	CoalescerJoinedTotal     prometheus.Counter
	CoalescerSubmittedTotal  prometheus.Counter

	ExecutorQueueDepth    prometheus.Gauge
	ExecutorJobDuration   prometheus.Histogram
	ExecutorJobsTotal     *prometheus.CounterVec
	ExecutorModelLoadSecs prometheus.Histogram
}

// New creates and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mokuro_online_cache_requests_total",
			Help: "Total cache lookups by result (hit, miss).",
		}, []string{"result"}),
		CacheEntryCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mokuro_online_cache_entries",
			Help: "Current number of entries in the result cache.",
		}),
		CacheBytesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mokuro_online_cache_bytes",
			Help: "Current total size in bytes of the result cache.",
		}),
		CacheEvictedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mokuro_online_cache_evicted_total",
			Help: "Total entries evicted by sweep stage (expired, threshold, size).",
		}, []string{"stage"}),

		CoalescerInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mokuro_online_coalescer_in_flight",
			Help: "Current number of hashes with an in-flight OCR job.",
		}),
		CoalescerJoinedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mokuro_online_coalescer_joined_total",
			Help: "Total submissions that joined an already in-flight job instead of starting a new one.",
		}),
		CoalescerSubmittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mokuro_online_coalescer_submitted_total",
			Help: "Total submissions that admitted a new OCR job.",
		}),

		ExecutorQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mokuro_online_executor_queue_depth",
			Help: "Current number of jobs waiting for a free worker.",
		}),
		ExecutorJobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mokuro_online_executor_job_duration_seconds",
			Help:    "OCR job duration in seconds, from dequeue to result.",
			Buckets: prometheus.DefBuckets,
		}),
		ExecutorJobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mokuro_online_executor_jobs_total",
			Help: "Total OCR jobs processed by outcome (success, error).",
		}, []string{"outcome"}),
		ExecutorModelLoadSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mokuro_online_executor_model_load_seconds",
			Help:    "Time spent lazily loading the OCR model (emitted once).",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.CacheHitsTotal, m.CacheEntryCount, m.CacheBytesTotal, m.CacheEvictedTotal,
		m.CoalescerInFlight, m.CoalescerJoinedTotal, m.CoalescerSubmittedTotal,
		m.ExecutorQueueDepth, m.ExecutorJobDuration, m.ExecutorJobsTotal, m.ExecutorModelLoadSecs,
	)
	return m
}

func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheHitsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SetCacheSize(entries, bytes int64) {
	if m == nil {
		return
	}
	m.CacheEntryCount.Set(float64(entries))
	m.CacheBytesTotal.Set(float64(bytes))
}

func (m *Metrics) RecordEviction(stage string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.CacheEvictedTotal.WithLabelValues(stage).Add(float64(n))
}

func (m *Metrics) RecordSubmission(joined bool) {
	if m == nil {
		return
	}
	if joined {
		m.CoalescerJoinedTotal.Inc()
		return
	}
	m.CoalescerSubmittedTotal.Inc()
}

func (m *Metrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.CoalescerInFlight.Set(float64(n))
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.ExecutorQueueDepth.Set(float64(n))
}

func (m *Metrics) RecordJob(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ExecutorJobsTotal.WithLabelValues(outcome).Inc()
	m.ExecutorJobDuration.Observe(durationSeconds)
}

func (m *Metrics) RecordModelLoad(durationSeconds float64) {
	if m == nil {
		return
	}
	m.ExecutorModelLoadSecs.Observe(durationSeconds)
}
