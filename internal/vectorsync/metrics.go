package vectorsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts synchronization calls.
	// Labels: result (success, blocked, error, disabled)
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total number of synchronization calls",
		},
		[]string{"result"},
	)

	// RunDuration tracks synchronization latency, guard wait included.
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recalld",
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Duration of synchronization calls in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// ItemsInserted counts messages inserted into the index.
	ItemsInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "sync",
			Name:      "items_inserted_total",
			Help:      "Total number of messages inserted",
		},
	)

	// HashesDeleted counts stored hashes removed because their message is gone.
	HashesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "sync",
			Name:      "hashes_deleted_total",
			Help:      "Total number of stale hashes deleted",
		},
	)

	// Backlog is the number of messages left after the last batch.
	Backlog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "recalld",
			Subsystem: "sync",
			Name:      "backlog",
			Help:      "Messages still waiting to be inserted after the last batch",
		},
	)
)
