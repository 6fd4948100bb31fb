package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "courier"

// Metrics holds every collector the service exports. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	EventsPublished     *prometheus.CounterVec
	EventsConsumed      *prometheus.CounterVec
	BridgeDeliveries    *prometheus.CounterVec
	BridgeDecodeErrors  prometheus.Counter
	WSConnections       prometheus.Gauge
	WSFrames            *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published to the broker, by event kind and result.",
		}, []string{"event", "result"}),
		EventsConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_consumed_total",
			Help:      "Deliveries taken off the fanout queue, by handler result.",
		}, []string{"result"}),
		BridgeDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_deliveries_total",
			Help:      "Per-participant delivery attempts against the local registry.",
		}, []string{"result"}),
		BridgeDecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_decode_errors_total",
			Help:      "Broker payloads dropped because they could not be decoded.",
		}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Live WebSocket connections registered in this process.",
		}),
		WSFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_frames_total",
			Help:      "Inbound WebSocket frames, by request type and outcome.",
		}, []string{"type", "outcome"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// RegisterRuntime adds the Go runtime and process collectors.
func RegisterRuntime(reg prometheus.Registerer) {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Published(event, result string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(event, result).Inc()
}

func (m *Metrics) Consumed(result string) {
	if m == nil {
		return
	}
	m.EventsConsumed.WithLabelValues(result).Inc()
}

func (m *Metrics) Delivered(result string) {
	if m == nil {
		return
	}
	m.BridgeDeliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.BridgeDecodeErrors.Inc()
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.WSConnections.Set(float64(n))
}

func (m *Metrics) Frame(requestType, outcome string) {
	if m == nil {
		return
	}
	m.WSFrames.WithLabelValues(requestType, outcome).Inc()
}

func (m *Metrics) ObserveRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, route, status).Observe(seconds)
}
