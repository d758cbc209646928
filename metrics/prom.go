package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wordbin_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wordbin_paste_retrieved_total",
		Help: "no. of pastes retrieved",
	})
	PasteRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wordbin_paste_removed_total",
		Help: "no. of pastes removed explicitly",
	})
	PasteExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wordbin_paste_expired_total",
		Help: "no. of pastes evicted by the expiration sweep",
	})
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wordbin_cache_hits_total",
		Help: "no. of LRU cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wordbin_cache_misses_total",
		Help: "no. of LRU cache misses",
	})
	SnapshotWriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wordbin_snapshot_write_seconds",
		Help:    "snapshot rewrite duration in seconds",
		Buckets: prometheus.DefBuckets,
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wordbin_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wordbin_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
)
