package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Throughput metrics - Track call volume
var (
	CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cwfork_calls_total",
			Help: "Total number of top-level calls by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	SubMessagesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cwfork_submessages_dispatched_total",
			Help: "Total number of sub-messages dispatched by message kind",
		},
		[]string{"kind"},
	)

	RepliesInvoked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cwfork_replies_invoked_total",
		Help: "Total number of reply entry points invoked",
	})

	CoverageBuffers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cwfork_coverage_buffers_total",
		Help: "Total number of coverage buffers collected",
	})
)

// Performance metrics - Track call and fetch latency
var (
	CallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cwfork_call_duration_seconds",
			Help:    "Time taken to run a top-level call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	RemoteFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cwfork_remote_fetch_duration_seconds",
			Help:    "Time taken to fetch a remote object over the network",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

// State metrics - Track current session state
var (
	ForkHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cwfork_fork_height",
		Help: "Pinned remote height the session forks from",
	})

	BlockHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cwfork_block_height",
		Help: "Current local block height of the session",
	})

	CachedContracts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cwfork_cached_contracts",
		Help: "Number of remote contracts held in memory",
	})
)

// Cache metrics - Track effectiveness of caches
var (
	RemoteFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cwfork_remote_fetches_total",
			Help: "Remote reads by object kind and where they were served from",
		},
		[]string{"kind", "source"},
	)

	ModuleCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cwfork_module_cache_hits_total",
		Help: "Compiled module cache hits",
	})

	ModuleCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cwfork_module_cache_misses_total",
		Help: "Compiled module cache misses",
	})
)

// Error metrics - Track failures
var (
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cwfork_errors_total",
			Help: "Total number of failed calls by error kind",
		},
		[]string{"kind"},
	)

	Reverts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cwfork_reverts_total",
		Help: "Total number of frame-level state reverts",
	})

	DepthExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cwfork_depth_exceeded_total",
		Help: "Total number of calls aborted by the call depth bound",
	})

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cwfork_remote_retries_total",
			Help: "Total number of retried remote operations",
		},
		[]string{"operation"},
	)
)
