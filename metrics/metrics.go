// File: metrics/metrics.go
// Package metrics exposes runtime counters as Prometheus collectors
// (spec §6 "Observable side effects" / SPEC_FULL.md §6 Observability):
// per-service port counts, per-connection queue occupancy and overflow
// evictions, allocator out-of-memory counts, and dead-node cleanup
// counts.
//
// Generalizes control/metrics.go's MetricsRegistry (a mutex-guarded
// map[string]any snapshot) into typed github.com/prometheus/
// client_golang collectors, the way ghjramos-aistore and the
// other_examples ocx backend expose runtime metrics as real Prometheus
// vectors instead of an ad hoc map.
// License: Apache-2.0
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every collector this module publishes, registered
// against a single prometheus.Registerer so callers can mount it on
// their own HTTP handler or the default registry.
type Registry struct {
	PortsRegistered  *prometheus.CounterVec
	PortsRemoved     *prometheus.CounterVec
	QueueOccupancy   *prometheus.GaugeVec
	QueueOverflows   *prometheus.CounterVec
	AllocatorOOM     *prometheus.CounterVec
	DeadNodesCleaned prometheus.Counter
	StaleEntriesRemoved prometheus.Counter
}

// NewRegistry constructs every collector and registers it against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		PortsRegistered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shmipc",
			Name:      "ports_registered_total",
			Help:      "Ports added to a service's dynamic registry, by port kind.",
		}, []string{"kind"}),
		PortsRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shmipc",
			Name:      "ports_removed_total",
			Help:      "Ports removed from a service's dynamic registry, by port kind.",
		}, []string{"kind"}),
		QueueOccupancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "shmipc",
			Name:      "connection_queue_occupancy",
			Help:      "Current number of offsets pending in a zero-copy connection's queue.",
		}, []string{"connection"}),
		QueueOverflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shmipc",
			Name:      "connection_overflow_evictions_total",
			Help:      "Offsets displaced by push_with_overflow on a full connection queue.",
		}, []string{"connection"}),
		AllocatorOOM: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shmipc",
			Name:      "allocator_out_of_memory_total",
			Help:      "Allocate() calls that failed with OutOfMemory, by segment name.",
		}, []string{"segment"}),
		DeadNodesCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shmipc",
			Name:      "dead_nodes_cleaned_total",
			Help:      "Dead nodes for which RemoveStaleResources completed.",
		}),
		StaleEntriesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shmipc",
			Name:      "stale_registry_entries_removed_total",
			Help:      "Dynamic registry entries removed by dead-node cleanup.",
		}),
	}
	reg.MustRegister(
		m.PortsRegistered, m.PortsRemoved, m.QueueOccupancy, m.QueueOverflows,
		m.AllocatorOOM, m.DeadNodesCleaned, m.StaleEntriesRemoved,
	)
	return m
}

// ObserveQueue sets the current occupancy gauge for a named connection.
func (m *Registry) ObserveQueue(connection string, occupancy int) {
	m.QueueOccupancy.WithLabelValues(connection).Set(float64(occupancy))
}

// RecordOverflow increments the overflow-eviction counter for a named
// connection.
func (m *Registry) RecordOverflow(connection string) {
	m.QueueOverflows.WithLabelValues(connection).Inc()
}

// RecordPortAdded increments the registered-port counter for a kind
// label (e.g. "publisher", "subscriber").
func (m *Registry) RecordPortAdded(kind string) {
	m.PortsRegistered.WithLabelValues(kind).Inc()
}

// RecordPortRemoved increments the removed-port counter for a kind
// label.
func (m *Registry) RecordPortRemoved(kind string) {
	m.PortsRemoved.WithLabelValues(kind).Inc()
}

// RecordAllocatorOOM increments the out-of-memory counter for a named
// segment.
func (m *Registry) RecordAllocatorOOM(segment string) {
	m.AllocatorOOM.WithLabelValues(segment).Inc()
}

// RecordDeadNodeCleaned increments the dead-node and stale-entry
// counters after a RemoveStaleResources pass completes.
func (m *Registry) RecordDeadNodeCleaned(staleEntries int) {
	m.DeadNodesCleaned.Inc()
	m.StaleEntriesRemoved.Add(float64(staleEntries))
}
