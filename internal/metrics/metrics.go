// Package metrics exposes Prometheus collectors for payment callbacks.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "payjs"

// Callback kinds used as the "kind" label.
const (
	KindNotify = "notify"
	KindReturn = "return"
)

// Metrics holds the collectors of one registry. Each instance owns its
// registry so servers and tests never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	CallbackCounter  *prometheus.CounterVec
	CallbackDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CallbackCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "callback",
				Name:      "total",
				Help:      "Gateway callbacks handled, by outcome",
			},
			[]string{"gateway", "kind", "outcome"},
		),
		CallbackDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "callback",
				Name:      "duration_seconds",
				Help:      "Time spent handling a gateway callback",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"gateway", "kind"},
		),
	}
}

// ObserveCallback counts one handled callback and records how long it took
// since start.
func (m *Metrics) ObserveCallback(gateway, kind, outcome string, start time.Time) {
	m.CallbackCounter.WithLabelValues(gateway, kind, outcome).Inc()
	m.CallbackDuration.WithLabelValues(gateway, kind).Observe(time.Since(start).Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
