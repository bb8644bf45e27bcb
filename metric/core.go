package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the bridge-level metrics shared by all components
type Metrics struct {
	// Pipeline metrics
	MessagesReceived     *prometheus.CounterVec
	MessagesWritten      *prometheus.CounterVec
	MessagesAcked        prometheus.Counter
	MessagesNaked        prometheus.Counter
	MessagesDeadLettered prometheus.Counter
	WriteRetries         prometheus.Counter
	WriteDuration        prometheus.Histogram
	ErrorsTotal          *prometheus.CounterVec

	// Endpoint metrics
	BrokerConnected prometheus.Gauge
	StoreConnected  prometheus.Gauge
	BridgeState     prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all bridge metrics
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mqbridge",
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of messages received from the broker",
			},
			[]string{"subject"},
		),

		MessagesWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mqbridge",
				Subsystem: "messages",
				Name:      "written_total",
				Help:      "Total number of documents written to the store",
			},
			[]string{"subject"},
		),

		MessagesAcked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "mqbridge",
				Subsystem: "messages",
				Name:      "acked_total",
				Help:      "Total number of messages acknowledged to the broker",
			},
		),

		MessagesNaked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "mqbridge",
				Subsystem: "messages",
				Name:      "naked_total",
				Help:      "Total number of messages negatively acknowledged to the broker",
			},
		),

		MessagesDeadLettered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "mqbridge",
				Subsystem: "messages",
				Name:      "dead_lettered_total",
				Help:      "Total number of messages routed to the dead-letter path",
			},
		),

		WriteRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "mqbridge",
				Subsystem: "writer",
				Name:      "retries_total",
				Help:      "Total number of retried write attempts",
			},
		),

		WriteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "mqbridge",
				Subsystem: "writer",
				Name:      "duration_seconds",
				Help:      "Store write duration in seconds, including retries",
				Buckets:   prometheus.DefBuckets,
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mqbridge",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by component and class",
			},
			[]string{"component", "class"},
		),

		BrokerConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mqbridge",
				Subsystem: "broker",
				Name:      "connected",
				Help:      "Broker connection status (0=disconnected, 1=connected)",
			},
		),

		StoreConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mqbridge",
				Subsystem: "store",
				Name:      "connected",
				Help:      "Document store connection status (0=disconnected, 1=connected)",
			},
		),

		BridgeState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mqbridge",
				Subsystem: "bridge",
				Name:      "state",
				Help:      "Bridge state (0=starting, 1=running, 2=draining, 3=stopped)",
			},
		),
	}
}

// collectors returns all core metrics for registration
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesReceived,
		m.MessagesWritten,
		m.MessagesAcked,
		m.MessagesNaked,
		m.MessagesDeadLettered,
		m.WriteRetries,
		m.WriteDuration,
		m.ErrorsTotal,
		m.BrokerConnected,
		m.StoreConnected,
		m.BridgeState,
	}
}
