package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "storyd",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"backend", "operation"},
	)

	operationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storyd",
			Subsystem: "vectorstore",
			Name:      "operation_errors_total",
			Help:      "Vector store operations that returned an error.",
		},
		[]string{"backend", "operation"},
	)

	documentsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storyd",
			Subsystem: "vectorstore",
			Name:      "documents_upserted_total",
			Help:      "Documents written to the vector store.",
		},
		[]string{"backend"},
	)
)

// observeOp records duration and error count for a store operation.
func observeOp(backend, operation string, start time.Time, err error) {
	operationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		operationErrors.WithLabelValues(backend, operation).Inc()
	}
}
