package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetrievalsTotal counts retrievals by outcome.
	// Labels: result (injected, empty, skipped, disabled, error)
	RetrievalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "retrieval",
			Name:      "total",
			Help:      "Total number of retrievals",
		},
		[]string{"result"},
	)

	// InjectedResults tracks how many memories each retrieval injects.
	InjectedResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recalld",
			Subsystem: "retrieval",
			Name:      "injected_results",
			Help:      "Number of memories injected per retrieval",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)

	// RetrievalDuration tracks retrieval latency.
	RetrievalDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recalld",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Duration of retrievals in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
