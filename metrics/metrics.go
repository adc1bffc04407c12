// Package metrics exports host observations as Prometheus collectors.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/machinefabric/cardbridge-go/bridge"
)

// Recorder implements host.MetricsRecorder on a Prometheus registry.
type Recorder struct {
	registry   *prometheus.Registry
	operations *prometheus.HistogramVec
	results    *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	errors     *prometheus.CounterVec
}

// NewRecorder creates a Recorder with its own registry. namespace prefixes
// every metric name and defaults to "cardbridge".
func NewRecorder(namespace string) *Recorder {
	if namespace == "" {
		namespace = "cardbridge"
	}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of host operations (invoke, permissions, persist).",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_results_total",
			Help:      "Host operation outcomes.",
		}, []string{"operation", "status"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Inbound plugin messages dropped by the validation pipeline.",
		}, []string{"stage"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_errors_total",
			Help:      "Bridge errors returned to plugins.",
		}, []string{"code"}),
	}
	r.registry.MustRegister(r.operations, r.results, r.dropped, r.errors)
	return r
}

// Observe records an operation outcome.
func (r *Recorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.operations.WithLabelValues(operation).Observe(duration.Seconds())
	r.results.WithLabelValues(operation, status).Inc()
}

// Dropped counts a message dropped at stage.
func (r *Recorder) Dropped(stage string) {
	r.dropped.WithLabelValues(stage).Inc()
}

// BridgeError counts an error response.
func (r *Recorder) BridgeError(code bridge.ErrorCode) {
	r.errors.WithLabelValues(string(code)).Inc()
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
