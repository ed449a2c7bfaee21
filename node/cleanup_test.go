package node

import (
	"testing"

	"github.com/momentics/shmipc/event"
	"github.com/momentics/shmipc/ids"
	"github.com/momentics/shmipc/logsink"
	"github.com/momentics/shmipc/service"
	"github.com/momentics/shmipc/zerocopy"
)

func TestDeadNode_RemoveStaleResourcesVisitsEveryTouchedService(t *testing.T) {
	dir := t.TempDir()

	n, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n.TouchService("svc-a")
	n.TouchService("svc-b")
	if err := n.lock.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	reg, err := NewRegistry(dir, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	defer reg.Close()

	dead, ok := reg.Acquire(n.ID())
	if !ok {
		t.Fatal("expected Acquire to succeed")
	}

	otherNode := ids.New()
	registries := map[string]*service.Registry{
		"svc-a": service.NewRegistry(make([]byte, service.MemorySize(4)), 4),
		"svc-b": service.NewRegistry(make([]byte, service.MemorySize(4)), 4),
	}
	for _, r := range registries {
		if _, err := r.Add(service.PortPublisher, ids.New(), n.ID(), 0); err != nil {
			t.Fatalf("Add dead node entry: %v", err)
		}
		if _, err := r.Add(service.PortSubscriber, ids.New(), otherNode, 0); err != nil {
			t.Fatalf("Add unrelated entry: %v", err)
		}
	}

	visited := map[string]int{}
	opener := func(name string) (*service.Registry, func() error, error) {
		return registries[name], func() error { return nil }, nil
	}
	hook := func(name string, reg *service.Registry, removed []service.Entry) {
		visited[name] = len(removed)
		for _, e := range removed {
			if e.NodeID != n.ID() {
				t.Fatalf("service %s: hook saw an entry not owned by the dead node: %v", name, e.NodeID)
			}
		}
	}
	if err := dead.RemoveStaleResources(opener, hook); err != nil {
		t.Fatalf("RemoveStaleResources: %v", err)
	}

	if len(visited) != 2 {
		t.Fatalf("expected both services visited, got %v", visited)
	}
	for name, removed := range visited {
		if removed != 1 {
			t.Fatalf("service %s: expected exactly 1 entry removed, got %d", name, removed)
		}
	}

	// The dead node's entries are gone; the unrelated node's entries survive.
	for name, r := range registries {
		count := 0
		r.Range(service.PortSubscriber, func(service.Entry) bool { count++; return true })
		if count != 1 {
			t.Fatalf("service %s: expected unrelated subscriber entry to survive, got %d", name, count)
		}
	}

	if _, err := readRecord(dir, n.ID()); err == nil {
		t.Fatal("expected node record removed after cleanup")
	}
	if _, ok := reg.Acquire(n.ID()); ok {
		t.Fatal("expected liveness lock released after cleanup")
	}
}

func TestDefaultCleanupHook_UnlinksConnectionAndSignalsDeadNotifier(t *testing.T) {
	dir := t.TempDir()

	n, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n.TouchService("svc")
	if err := n.lock.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	reg, err := NewRegistry(dir, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	defer reg.Close()

	dead, ok := reg.Acquire(n.ID())
	if !ok {
		t.Fatal("expected Acquire to succeed")
	}

	svc := service.NewRegistry(make([]byte, service.MemorySize(4)), 4)
	pubID, subID := ids.New(), ids.New()
	notifierID, listenerID := ids.New(), ids.New()
	if _, err := svc.Add(service.PortPublisher, pubID, n.ID(), 0); err != nil {
		t.Fatalf("Add publisher: %v", err)
	}
	if _, err := svc.Add(service.PortSubscriber, subID, ids.New(), 0); err != nil {
		t.Fatalf("Add subscriber: %v", err)
	}
	if _, err := svc.Add(service.PortNotifier, notifierID, n.ID(), 0); err != nil {
		t.Fatalf("Add notifier: %v", err)
	}
	if _, err := svc.Add(service.PortListener, listenerID, ids.New(), 0); err != nil {
		t.Fatalf("Add listener: %v", err)
	}

	conns := zerocopy.NewDirectory()
	connName := "iox2_" + pubID.String() + "_" + subID.String() + ".connection"
	if _, err := conns.GetOrCreate(connName, zerocopy.Params{BufferSize: 2, MaxBorrowedSamples: 2}); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	channels := event.NewDirectory()
	listenerChannelName := "iox2_" + listenerID.String() + ".event"
	listenerChannel, err := channels.GetOrCreate(listenerChannelName, 8)
	if err != nil {
		t.Fatalf("GetOrCreate channel: %v", err)
	}

	opener := func(name string) (*service.Registry, func() error, error) {
		return svc, func() error { return nil }, nil
	}

	if err := dead.RemoveStaleResources(opener, DefaultCleanupHook(conns, channels, logsink.Noop())); err != nil {
		t.Fatalf("RemoveStaleResources: %v", err)
	}

	if _, ok := conns.Lookup(connName); ok {
		t.Fatal("expected the dead publisher's connection to be unlinked")
	}
	id, ok := listenerChannel.TryWaitOne()
	if !ok || id != event.SystemEventNotifierDead {
		t.Fatalf("expected the surviving listener to observe SystemEventNotifierDead, got id=%d ok=%v", id, ok)
	}
}
