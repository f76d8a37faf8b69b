package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsRecorder exports repository operation counters and
// latencies through a Prometheus registry.
type PrometheusMetricsRecorder struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
}

// NewPrometheusMetricsRecorder registers the collectors on reg. A nil
// registerer falls back to the default registry.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer, namespace string) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "crmcore"
	}
	rec := &PrometheusMetricsRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repository_operations_total",
			Help:      "Repository operations by operation name and outcome.",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "repository_operation_duration_seconds",
			Help:      "Repository operation latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if err := reg.Register(rec.operations); err != nil {
		return nil, err
	}
	if err := reg.Register(rec.durations); err != nil {
		return nil, err
	}
	return rec, nil
}

// Observe records a repository operation outcome.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.operations.WithLabelValues(operation, status).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}
