package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := &dto.Metric{}
	if err := (<-ch).Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}

func TestRegistry_RecordPortAddedIncrementsByKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.RecordPortAdded("publisher")
	m.RecordPortAdded("publisher")
	m.RecordPortAdded("subscriber")

	if got := counterValue(t, m.PortsRegistered.WithLabelValues("publisher")); got != 2 {
		t.Fatalf("expected publisher count 2, got %v", got)
	}
	if got := counterValue(t, m.PortsRegistered.WithLabelValues("subscriber")); got != 1 {
		t.Fatalf("expected subscriber count 1, got %v", got)
	}
}

func TestRegistry_RecordDeadNodeCleanedAccumulates(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.RecordDeadNodeCleaned(3)
	m.RecordDeadNodeCleaned(2)

	if got := counterValue(t, m.DeadNodesCleaned); got != 2 {
		t.Fatalf("expected 2 dead-node cleanups, got %v", got)
	}
	if got := counterValue(t, m.StaleEntriesRemoved); got != 5 {
		t.Fatalf("expected 5 stale entries removed, got %v", got)
	}
}
