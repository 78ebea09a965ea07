package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Connections prometheus.Gauge
	Delivered   prometheus.Counter
	Dropped     *prometheus.CounterVec
}

// NewMetrics registers the relay collectors with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "bizdir",
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		Delivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bizdir",
			Subsystem: "relay",
			Name:      "messages_delivered_total",
			Help:      "Private messages written to a receiver connection.",
		}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bizdir",
			Subsystem: "relay",
			Name:      "messages_dropped_total",
			Help:      "Private messages not delivered, by reason.",
		}, []string{"reason"}),
	}
}
