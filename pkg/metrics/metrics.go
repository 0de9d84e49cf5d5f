package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	// Stream metrics
	StreamSamplesReceived = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "workcell_stream_samples_received_total",
		Help: "Total number of valid telemetry samples received",
	})
	StreamTransportErrors = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "workcell_stream_transport_errors_total",
		Help: "Total number of stream transport errors",
	})
	StreamReconnectAttempts = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "workcell_stream_reconnect_attempts_total",
		Help: "Total number of stream reconnect attempts",
	})
	StreamConnectionStatus = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Name: "workcell_stream_connection_status",
		Help: "Stream connection status (1 = connected, 0 = disconnected)",
	})

	// Event lifecycle metrics
	EventsOpened = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "workcell_events_opened_total",
		Help: "Total number of anomaly events opened",
	}, []string{"scenario"})
	EventsResolved = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "workcell_events_resolved_total",
		Help: "Total number of anomaly events resolved",
	})
	ActiveEvent = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Name: "workcell_active_event",
		Help: "Whether an anomaly event is currently active (1 = active)",
	})

	// Notification metrics
	NotificationsSent = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "workcell_notifications_sent_total",
		Help: "Total number of operator notifications dispatched",
	}, []string{"kind"})
	NotificationsSuppressed = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "workcell_notifications_suppressed_total",
		Help: "Total number of notifications suppressed before dispatch",
	}, []string{"reason"})

	// AMQP metrics
	AMQPPublishedMessages = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "workcell_amqp_published_messages_total",
		Help: "Total number of messages published to AMQP",
	})
	AMQPConnectionErrors = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "workcell_amqp_connection_errors_total",
		Help: "Total number of AMQP connection errors",
	})
)

// GetRegistry returns the process metrics registry.
func GetRegistry() *prometheus.Registry {
	return registry
}

// Handler returns the HTTP handler serving the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          registry,
	})
}
