package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for notelive.
type Metrics struct {
	ConnectionsTotal  prometheus.Counter
	ActiveConnections prometheus.Gauge
	MessagesTotal     *prometheus.CounterVec
	DeliveredTotal    *prometheus.CounterVec
	DroppedTotal      *prometheus.CounterVec
	StaleReaped       prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
}

// New creates and registers all metrics against reg. Tests pass a private
// prometheus.NewRegistry so repeated construction never collides.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "notelive_connections_total",
			Help: "Total WebSocket connections accepted",
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "notelive_active_connections",
			Help: "Current active WebSocket connections",
		}),
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notelive_messages_total",
			Help: "Total WebSocket frames by direction",
		}, []string{"direction"}),
		DeliveredTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notelive_delivered_total",
			Help: "Envelopes accepted for delivery by path",
		}, []string{"path"}),
		DroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notelive_dropped_total",
			Help: "Envelopes lost to best-effort delivery by reason",
		}, []string{"reason"}),
		StaleReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "notelive_stale_connections_reaped_total",
			Help: "Registry entries removed by the stale-connection reaper",
		}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notelive_errors_total",
			Help: "Total errors by type",
		}, []string{"type"}),
	}
}
