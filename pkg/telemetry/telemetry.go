package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-wide metrics, exposed on /metrics via promhttp.

var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkwell_cache_hits_total",
		Help: "Cache reads served from the KV store.",
	}, []string{"namespace"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkwell_cache_misses_total",
		Help: "Cache reads that fell through to the fetcher.",
	}, []string{"namespace", "reason"})

	CacheVersionBumps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkwell_cache_version_bumps_total",
		Help: "Namespace version bumps (O(1) invalidations).",
	}, []string{"namespace"})

	SearchQueries = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inkwell_search_query_seconds",
		Help:    "Search query latency.",
		Buckets: prometheus.DefBuckets,
	})

	SearchIndexDocs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inkwell_search_index_docs",
		Help: "Documents currently held in the search index.",
	})

	WorkflowStepAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkwell_workflow_step_attempts_total",
		Help: "Workflow step executions by step and outcome.",
	}, []string{"step", "outcome"})

	RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkwell_rate_limit_decisions_total",
		Help: "Rate limiter admissions and denials.",
	}, []string{"decision"})

	CDNPurges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkwell_cdn_purges_total",
		Help: "CDN purge requests by outcome.",
	}, []string{"outcome"})

	AICalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkwell_ai_calls_total",
		Help: "AI summarization calls by outcome.",
	}, []string{"outcome"})
)
