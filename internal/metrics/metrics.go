// ABOUTME: Prometheus collectors for the event bus, API operations and live connections
// ABOUTME: Owns a private registry exposed through Handler

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/huddle/internal/bus"
)

const namespace = "huddle"

// Metrics holds every huddle collector.
type Metrics struct {
	registry *prometheus.Registry

	busPublished   *prometheus.CounterVec
	busDelivered   *prometheus.CounterVec
	busDropped     *prometheus.CounterVec
	busSubscribers *prometheus.GaugeVec
	apiRequests    *prometheus.CounterVec
	connections    prometheus.Gauge
}

var _ bus.Metrics = (*Metrics)(nil)

// New creates and registers the collectors. Go runtime and process collectors
// are included so the endpoint is useful on its own.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		busPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "bus", "published_total"),
			Help: "Events published on the bus.",
		}, []string{"topic"}),
		busDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "bus", "delivered_total"),
			Help: "Events handed to a subscriber queue.",
		}, []string{"topic"}),
		busDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "bus", "dropped_total"),
			Help: "Events dropped for a full queue or a failing predicate.",
		}, []string{"topic"}),
		busSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prometheus.BuildFQName(namespace, "bus", "subscribers"),
			Help: "Live bus subscribers.",
		}, []string{"topic"}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "api", "requests_total"),
			Help: "API operations by outcome code.",
		}, []string{"operation", "code"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prometheus.BuildFQName(namespace, "ws", "connections"),
			Help: "Open subscription sockets.",
		}),
	}

	m.registry.MustRegister(
		m.busPublished,
		m.busDelivered,
		m.busDropped,
		m.busSubscribers,
		m.apiRequests,
		m.connections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Published(topic bus.Topic) { m.busPublished.WithLabelValues(string(topic)).Inc() }
func (m *Metrics) Delivered(topic bus.Topic) { m.busDelivered.WithLabelValues(string(topic)).Inc() }
func (m *Metrics) Dropped(topic bus.Topic)   { m.busDropped.WithLabelValues(string(topic)).Inc() }

func (m *Metrics) SubscriberDelta(topic bus.Topic, delta int) {
	m.busSubscribers.WithLabelValues(string(topic)).Add(float64(delta))
}

// ObserveRequest counts one API operation with its wire code ("OK" on success).
func (m *Metrics) ObserveRequest(operation, code string) {
	m.apiRequests.WithLabelValues(operation, code).Inc()
}

// ConnectionOpened and ConnectionClosed track live subscription sockets.
func (m *Metrics) ConnectionOpened() { m.connections.Inc() }
func (m *Metrics) ConnectionClosed() { m.connections.Dec() }

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
