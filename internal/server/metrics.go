package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Tyrowin/relaychat/internal/hub"
	"github.com/Tyrowin/relaychat/internal/registry"
)

const metricsNamespace = "relaychat"

// Metrics exposes relay counters on a dedicated Prometheus registry. Hub and
// registry values are read at scrape time; session events are counted as
// they happen through the session.Observer methods.
type Metrics struct {
	registry *prometheus.Registry

	rateLimited prometheus.Counter
	fallbacks   prometheus.Counter
}

// NewMetrics registers the relay collectors for h and reg.
func NewMetrics(h *hub.Hub, reg *registry.Registry) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_rate_limited_total",
			Help:      "Inbound frames discarded by the per-connection rate limit.",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fallback_messages_total",
			Help:      "Inbound frames that were not envelopes and were relayed as plain text.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.rateLimited,
		m.fallbacks,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections",
			Help:      "Open hub subscriptions, one per connected client.",
		}, func() float64 { return float64(h.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "roster_size",
			Help:      "Registered display names.",
		}, func() float64 { return float64(reg.Len()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_published_total",
			Help:      "Frames published on the hub.",
		}, func() float64 { return float64(h.Published()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_dropped_total",
			Help:      "Frames evicted from slow subscriber queues.",
		}, func() float64 { return float64(h.Dropped()) }),
	)
	return m
}

// Registry returns the Prometheus registry holding the relay collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RateLimited counts a frame discarded by the rate limiter.
func (m *Metrics) RateLimited() {
	m.rateLimited.Inc()
}

// FallbackUsed counts a frame relayed through the plain-text fallback.
func (m *Metrics) FallbackUsed() {
	m.fallbacks.Inc()
}
