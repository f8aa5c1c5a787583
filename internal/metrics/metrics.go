// Package metrics exposes delivery pipeline counters and gauges over
// Prometheus, constructor-injected rather than kept as package
// globals, matching the rest of the runtime context.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements worker.Metrics and sweeper.Metrics.
type Recorder struct {
	registry *prometheus.Registry

	ingested       prometheus.Counter
	delivered      *prometheus.CounterVec
	retryScheduled prometheus.Counter
	swept          *prometheus.CounterVec
	queueDepth     prometheus.Gauge
}

func New() *Recorder {
	registry := prometheus.NewRegistry()

	ingested := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "webhook",
		Name:      "ingested_total",
		Help:      "Total number of events accepted at the ingestion endpoint.",
	})

	delivered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "webhook",
		Name:      "delivered_total",
		Help:      "Total number of delivery attempts, grouped by outcome.",
	}, []string{"outcome"})

	retryScheduled := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "webhook",
		Name:      "retry_scheduled_total",
		Help:      "Total number of delivery attempts that resulted in a scheduled retry.",
	})

	swept := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "webhook",
		Name:      "sweeper_deleted_total",
		Help:      "Total number of rows removed by the retention sweeper, grouped by kind.",
	}, []string{"kind"})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "webhook",
		Name:      "queue_depth",
		Help:      "Number of task IDs currently waiting in the delivery queue.",
	})

	registry.MustRegister(ingested, delivered, retryScheduled, swept, queueDepth)

	return &Recorder{
		registry:       registry,
		ingested:       ingested,
		delivered:      delivered,
		retryScheduled: retryScheduled,
		swept:          swept,
		queueDepth:     queueDepth,
	}
}

func (r *Recorder) RecordIngested() {
	r.ingested.Inc()
}

func (r *Recorder) RecordDelivered(outcome string) {
	r.delivered.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RecordRetryScheduled() {
	r.retryScheduled.Inc()
}

func (r *Recorder) RecordSwept(kind string, count int64) {
	if count <= 0 {
		return
	}
	r.swept.WithLabelValues(kind).Add(float64(count))
}

func (r *Recorder) SetQueueDepth(depth int64) {
	r.queueDepth.Set(float64(depth))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
