package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type PrometheusRecorder struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the t402 metric family on the default
// registry. Counter names follow the operation ("verify", "settle") with
// network, scheme and outcome labels.
func NewPrometheusRecorder() Recorder {
	operations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "t402",
			Name:      "operations_total",
			Help:      "t402 verify/settle operations by outcome",
		},
		[]string{"operation", "network", "scheme", "outcome"},
	)

	latency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "t402",
			Name:      "operation_duration_seconds",
			Help:      "t402 verify/settle latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "network"},
	)

	prometheus.MustRegister(operations, latency)

	return &PrometheusRecorder{
		operations: operations,
		latency:    latency,
	}
}

func (p *PrometheusRecorder) IncCounter(name string, labels map[string]string) {
	p.operations.With(prometheus.Labels{
		"operation": name,
		"network":   labels["network"],
		"scheme":    labels["scheme"],
		"outcome":   labels["outcome"],
	}).Inc()
}

func (p *PrometheusRecorder) ObserveLatency(name string, d time.Duration, labels map[string]string) {
	p.latency.With(prometheus.Labels{
		"operation": name,
		"network":   labels["network"],
	}).Observe(d.Seconds())
}
