// Package metrics registers the Prometheus instrumentation the dispatcher
// exposes: per-status event counts, puppet occupancy, buffer depth and
// rename failures. The plain prometheus.NewCounterVec/NewGauge style here
// follows the inference-extension example pack's metrics packages, minus
// the Kubernetes component-base wrapper those add for API stability
// annotations this project has no use for.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "puppetmaster"

// Metrics bundles every collector the dispatcher updates.
type Metrics struct {
	EventsTotal         *prometheus.CounterVec
	PuppetsBusy         prometheus.Gauge
	BufferDepth         prometheus.Gauge
	RenameFailuresTotal prometheus.Counter
}

// New creates and registers a fresh set of collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Count of Started/Finished/Failed events emitted, by status.",
		}, []string{"status"}),
		PuppetsBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "puppets_busy",
			Help:      "Number of puppets currently executing a transaction.",
		}),
		BufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_depth",
			Help:      "Number of renamed transactions currently held in the dispatcher buffer.",
		}),
		RenameFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rename_failures_total",
			Help:      "Count of transactions dropped due to hash-probing exhaustion or counter saturation.",
		}),
	}
	reg.MustRegister(m.EventsTotal, m.PuppetsBusy, m.BufferDepth, m.RenameFailuresTotal)
	return m
}
