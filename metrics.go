package scopez

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "scopez"

type metrics struct {
	contexts      prometheus.Gauge
	frames        prometheus.Gauge
	scopes        prometheus.Gauge
	hookEnabled   prometheus.Gauge
	notifications *prometheus.CounterVec
	anomalies     *prometheus.CounterVec
}

// newMetrics builds the engine collectors. A nil registerer yields
// working collectors that are not registered anywhere.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		contexts: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "contexts",
			Help:      "Context nodes that can still become active.",
		}),
		frames: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "frames",
			Help:      "Execution frames still referenced.",
		}),
		scopes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "scopes_open",
			Help:      "Scopes activated and not yet closed.",
		}),
		hookEnabled: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "hook_enabled",
			Help:      "1 while the engine receives runtime notifications.",
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "notifications_total",
			Help:      "Lifecycle notifications received, by event.",
		}, []string{"event"}),
		anomalies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "anomalies_total",
			Help:      "Lifecycle notifications or bookkeeping steps that were ignored, by kind.",
		}, []string{"kind"}),
	}
}
