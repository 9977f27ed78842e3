// Package metrics exposes prometheus counters for draws and groupings.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ModeInstant = "instant"
	ModeSpin    = "spin"
)

type Metrics struct {
	Registry        *prometheus.Registry
	Draws           *prometheus.CounterVec
	EmptyPool       prometheus.Counter
	Groupings       prometheus.Counter
	NamingFallbacks *prometheus.CounterVec
}

// New registers the huddle counters on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Draws: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_draws_total",
			Help: "Completed draws by mode.",
		}, []string{"mode"}),
		EmptyPool: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "huddle_empty_pool_total",
			Help: "Draw attempts rejected because the pool was empty.",
		}),
		Groupings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "huddle_groupings_total",
			Help: "Completed grouping runs.",
		}),
		NamingFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_naming_fallbacks_total",
			Help: "Naming service failures replaced by local fallbacks.",
		}, []string{"op"}),
	}
	reg.MustRegister(m.Draws, m.EmptyPool, m.Groupings, m.NamingFallbacks)
	return m
}

func (m *Metrics) ObserveDraw(mode string) {
	if m == nil {
		return
	}
	m.Draws.WithLabelValues(mode).Inc()
}

func (m *Metrics) ObserveEmptyPool() {
	if m == nil {
		return
	}
	m.EmptyPool.Inc()
}

func (m *Metrics) ObserveGrouping() {
	if m == nil {
		return
	}
	m.Groupings.Inc()
}

func (m *Metrics) ObserveFallback(op string) {
	if m == nil {
		return
	}
	m.NamingFallbacks.WithLabelValues(op).Inc()
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
