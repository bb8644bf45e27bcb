package queue

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/CodeByJF/mqbridge/metric"
)

// queueMetrics holds Prometheus metrics for queue operations.
type queueMetrics struct {
	enqueues  prometheus.Counter
	dequeues  prometheus.Counter
	overflows prometheus.Counter
	drops     prometheus.Counter

	depth       prometheus.Gauge
	utilization prometheus.Gauge
}

// newQueueMetrics creates and registers queue metrics with the registry.
func newQueueMetrics(registry *metric.MetricsRegistry, prefix string) (*queueMetrics, error) {
	m := &queueMetrics{
		enqueues: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mqbridge",
			Subsystem:   "queue",
			Name:        "enqueues_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of enqueue operations",
		}),
		dequeues: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mqbridge",
			Subsystem:   "queue",
			Name:        "dequeues_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of dequeue operations",
		}),
		overflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mqbridge",
			Subsystem:   "queue",
			Name:        "overflows_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of queue-full events",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mqbridge",
			Subsystem:   "queue",
			Name:        "drops_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of items dropped by the overflow policy",
		}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "mqbridge",
			Subsystem:   "queue",
			Name:        "depth",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Current number of queued items",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "mqbridge",
			Subsystem:   "queue",
			Name:        "utilization",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Queue utilization as a fraction (0.0 to 1.0)",
		}),
	}

	for name, collector := range map[string]prometheus.Collector{
		"queue_enqueues":    m.enqueues,
		"queue_dequeues":    m.dequeues,
		"queue_overflows":   m.overflows,
		"queue_drops":       m.drops,
		"queue_depth":       m.depth,
		"queue_utilization": m.utilization,
	} {
		if err := registry.Register(prefix, name, collector); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *queueMetrics) recordEnqueue(size, capacity int) {
	m.enqueues.Inc()
	m.depth.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}

func (m *queueMetrics) recordDequeue(size, capacity int) {
	m.dequeues.Inc()
	m.depth.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}

func (m *queueMetrics) recordOverflow() {
	m.overflows.Inc()
}

func (m *queueMetrics) recordDrop() {
	m.drops.Inc()
}
