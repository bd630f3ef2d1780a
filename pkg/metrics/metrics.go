package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all pipeline metrics.
type Metrics struct {
	// Producer
	Enqueued       *prometheus.CounterVec
	EnqueueFailed  *prometheus.CounterVec

	// Consumer
	Processed          *prometheus.CounterVec
	Failed             *prometheus.CounterVec
	Retried            *prometheus.CounterVec
	DeadLettered       *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	InFlight           prometheus.Gauge
}

// New creates and registers all pipeline metrics on the default registry.
func New(namespace string) *Metrics {
	return &Metrics{
		Enqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueued_total",
			Help:      "Total number of work items durably queued",
		}, []string{"channel"}),
		EnqueueFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueue_failed_total",
			Help:      "Total number of enqueue attempts that failed",
		}, []string{"channel"}),
		Processed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processed_total",
			Help:      "Total number of work items delivered successfully",
		}, []string{"channel"}),
		Failed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_total",
			Help:      "Total number of processing attempts that failed",
		}, []string{"channel", "kind"}),
		Retried: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retried_total",
			Help:      "Total number of work items re-published for retry",
		}, []string{"channel"}),
		DeadLettered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_lettered_total",
			Help:      "Total number of work items routed to a dead-letter queue",
		}, []string{"channel"}),
		ProcessingDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_duration_seconds",
			Help:      "Time spent processing one work item end to end",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"channel"}),
		InFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight",
			Help:      "Number of work items currently being processed",
		}),
	}
}

// NewNop creates unregistered metrics for tests, so parallel test packages
// never collide on the default registry.
func NewNop() *Metrics {
	labels := func(names ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "nop_" + names[0]}, names[1:])
	}
	return &Metrics{
		Enqueued:      labels("enqueued", "channel"),
		EnqueueFailed: labels("enqueue_failed", "channel"),
		Processed:     labels("processed", "channel"),
		Failed:        labels("failed", "channel", "kind"),
		Retried:       labels("retried", "channel"),
		DeadLettered:  labels("dead_lettered", "channel"),
		ProcessingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "nop_processing_duration_seconds",
		}, []string{"channel"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{Name: "nop_in_flight"}),
	}
}
