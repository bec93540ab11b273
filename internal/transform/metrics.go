package transform

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransformationsTotal counts unit applications by result.
	TransformationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediation_transformations_total",
			Help: "Total number of transform unit applications",
		},
		[]string{"unit", "result"},
	)

	// TransformationDuration observes unit application latency.
	TransformationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediation_transformation_duration_seconds",
			Help:    "Duration of transform unit applications",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"unit"},
	)
)

// observeTransform records metrics for one unit application.
func observeTransform(unit string, elapsed time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	TransformationsTotal.WithLabelValues(unit, result).Inc()
	TransformationDuration.WithLabelValues(unit).Observe(elapsed.Seconds())
}
