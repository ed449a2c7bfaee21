// File: node/cleanup.go
// Dead-node cleanup (spec §4.5 "Dead(state).remove_stale_resources()"):
// walks the set of services a dead node touched, removing its entries
// from each service's dynamic registry and unlinking connections whose
// last user just disappeared.
//
// Grounded on internal/concurrency/executor.go's use of
// github.com/eapache/queue as a plain FIFO: this is single-consumer
// orchestration (one cleaner processes one dead node at a time under
// its liveness lock), not a hot concurrent path, so the teacher's
// growable ring queue is the right-sized tool rather than the lockfree
// structures reserved for the IPC fast path.
// License: Apache-2.0
package node

import (
	"time"

	"github.com/eapache/queue"
	"github.com/gofrs/flock"

	"github.com/momentics/shmipc/event"
	"github.com/momentics/shmipc/ids"
	"github.com/momentics/shmipc/ipcerr"
	"github.com/momentics/shmipc/logsink"
	"github.com/momentics/shmipc/service"
	"github.com/momentics/shmipc/shmseg"
	"github.com/momentics/shmipc/zerocopy"
)

// DeadNode is a classified-dead node record, held under its own
// liveness lock so cleanup never races with another cleaner (or with
// the node's own restart under the same ID, which cannot happen since
// IDs are never reused, but could race against a second cleaner
// process).
type DeadNode struct {
	id       ids.ID
	dir      string
	lock     *flock.Flock
	services []string
	log      logsink.Sink
}

// ID returns the dead node's ID.
func (d *DeadNode) ID() ids.ID { return d.id }

// ServiceOpener opens the dynamic registry segment for a named service,
// returning the mapped Registry and a release func the caller must
// invoke when done with it. Callers typically wire this to
// shmseg.Open("iox2_"+name+".dynamic", ...) plus service.NewRegistry.
type ServiceOpener func(serviceName string) (reg *service.Registry, release func() error, err error)

// DefaultOpener returns a ServiceOpener that opens
// "iox2_<serviceName>.dynamic" with the given per-kind capacity and
// open timeout, exactly as a live port would.
func DefaultOpener(capacityPerKind int, openTimeout time.Duration) ServiceOpener {
	return func(name string) (*service.Registry, func() error, error) {
		size := service.MemorySize(capacityPerKind)
		seg, err := shmseg.Open("iox2_"+name+".dynamic", size, 0, openTimeout)
		if err != nil {
			return nil, nil, err
		}
		return service.NewRegistry(seg.Payload(), capacityPerKind), seg.Release, nil
	}
}

// CleanupHook completes spec §4.5 steps (c)-(d) for one service's worth
// of entries a dead node owned: reg is still mapped (the caller releases
// it after this returns) so the hook can range over surviving peers to
// find everything the dead ports were connected to.
type CleanupHook func(serviceName string, reg *service.Registry, removed []service.Entry)

// RemoveStaleResources performs the whole of spec §4.5's cleanup: it
// iterates every service the dead node touched, removes its entries
// from each dynamic registry (steps (a)-(b)), and — if hook is non-nil —
// invokes it with the removed entries and the still-mapped registry so
// it can unlink each dead connection's shared storage and signal
// neighbouring ports (steps (c)-(d)) before the registry segment is
// released. DefaultCleanupHook provides the conventional
// zerocopy/event-directory wiring; pass nil to skip steps (c)-(d)
// entirely.
func (d *DeadNode) RemoveStaleResources(open ServiceOpener, hook CleanupHook) error {
	q := queue.New()
	for _, s := range d.services {
		q.Add(s)
	}

	var firstErr error
	for q.Length() > 0 {
		name, _ := q.Peek().(string)
		q.Remove()

		reg, release, err := open(name)
		if err != nil {
			d.log.Warnf("node %s cleanup: open service %q failed: %v", d.id, name, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed := reg.RemoveNode(d.id)
		if hook != nil {
			hook(name, reg, removed)
		}
		if err := release(); err != nil {
			d.log.Warnf("node %s cleanup: release service %q failed: %v", d.id, name, err)
		}
	}

	if err := removeRecord(d.dir, d.id); err != nil {
		if firstErr == nil {
			firstErr = err
		}
	}
	if err := d.lock.Unlock(); err != nil {
		return ipcerr.Wrap(ipcerr.CodeNodeRegistryInaccessible, "DeadNode.RemoveStaleResources", err)
	}
	return firstErr
}

// DefaultCleanupHook builds the conventional CleanupHook: for each
// removed publisher/subscriber or client/server entry, it unlinks the
// zero-copy connection(s) to every still-registered peer in the same
// service (spec §4.5 step (c)); for a removed notifier, it signals
// event.SystemEventNotifierDead to each of its still-registered
// listeners (step (d)), an ID distinct from the
// SystemEventNotifierDropped that Notifier.Close signals on a clean
// shutdown. conns and channels are
// typically the same *zerocopy.Directory/*event.Directory the live ports
// in this process share, so a connection this process itself has
// mapped gets released; a connection known only to other processes is
// simply left for shmseg's own ref-counted unlink on the last closer.
func DefaultCleanupHook(conns *zerocopy.Directory, channels *event.Directory, log logsink.Sink) CleanupHook {
	if log == nil {
		log = logsink.Default()
	}
	unlink := func(name string) {
		if err := conns.Remove(name); err != nil {
			log.Warnf("cleanup: unlink connection %q failed: %v", name, err)
		}
	}
	return func(serviceName string, reg *service.Registry, removed []service.Entry) {
		for _, e := range removed {
			switch e.Handle.Kind {
			case service.PortPublisher:
				reg.Range(service.PortSubscriber, func(sub service.Entry) bool {
					unlink("iox2_" + e.PortID.String() + "_" + sub.PortID.String() + ".connection")
					return true
				})
			case service.PortSubscriber:
				reg.Range(service.PortPublisher, func(pub service.Entry) bool {
					unlink("iox2_" + pub.PortID.String() + "_" + e.PortID.String() + ".connection")
					return true
				})
			case service.PortClient:
				reg.Range(service.PortServer, func(srv service.Entry) bool {
					unlink("iox2_" + e.PortID.String() + "_" + srv.PortID.String() + ".connection")
					unlink("iox2_" + srv.PortID.String() + "_" + e.PortID.String() + ".response")
					return true
				})
			case service.PortServer:
				reg.Range(service.PortClient, func(cl service.Entry) bool {
					unlink("iox2_" + cl.PortID.String() + "_" + e.PortID.String() + ".connection")
					unlink("iox2_" + e.PortID.String() + "_" + cl.PortID.String() + ".response")
					return true
				})
			case service.PortNotifier:
				reg.Range(service.PortListener, func(l service.Entry) bool {
					if c, ok := channels.Lookup("iox2_" + l.PortID.String() + ".event"); ok {
						if err := c.Notify(event.SystemEventNotifierDead); err != nil {
							log.Warnf("cleanup: notify listener %s of dead notifier %s failed: %v", l.PortID, e.PortID, err)
						}
					}
					return true
				})
			}
		}
	}
}
