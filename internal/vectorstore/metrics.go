package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts backend operations.
	// Labels: backend, operation, result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of backend operations",
		},
		[]string{"backend", "operation", "result"},
	)

	// OperationDuration tracks how long backend operations take.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "recalld",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of backend operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	// ChunksInserted counts chunks written by InsertChunks.
	ChunksInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "vectorstore",
			Name:      "chunks_inserted_total",
			Help:      "Total number of chunks inserted",
		},
		[]string{"backend"},
	)

	// ActiveBackend is 1 for the backend kind the registry serves, 0 otherwise.
	ActiveBackend = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "recalld",
			Subsystem: "vectorstore",
			Name:      "active_backend",
			Help:      "Currently active backend (1=active)",
		},
		[]string{"backend"},
	)

	// SwitchesTotal counts registry backend switches.
	// Labels: result (success, rejected)
	SwitchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "vectorstore",
			Name:      "switches_total",
			Help:      "Total number of backend switch attempts",
		},
		[]string{"result"},
	)
)

// observe records the outcome and latency of one backend operation.
func observe(backend Kind, operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(string(backend), operation, result).Inc()
	OperationDuration.WithLabelValues(string(backend), operation).Observe(time.Since(start).Seconds())
}

// setActive marks kind as the active backend.
func setActive(kind Kind) {
	for _, k := range []Kind{KindPassthrough, KindFilteredStore, KindPayloadIndexedStore} {
		v := 0.0
		if k == kind {
			v = 1
		}
		ActiveBackend.WithLabelValues(string(k)).Set(v)
	}
}
