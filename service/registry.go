// File: service/registry.go
// Dynamic service registry (spec §3 "Dynamic service registry", §4.5
// "Service dynamic registry update"): one MPMC container per port kind,
// each entry carrying the port's unique ID and owning node's ID.
//
// Unlike the purely in-process lockfree.Container[T], a dynamic registry
// must be visible across processes — it lives in the service's
// `iox2_<service-id>.dynamic` shared-memory object (spec §6). Go's
// generic containers hold arbitrary T on the Go heap, invisible to other
// processes, so this registry is a dedicated fixed-layout structure laid
// directly over a shmseg.Segment's payload: entries are plain
// (ids.ID, ids.ID, uint32) triples with no pointers, manipulated with
// the same atomic-field-over-raw-bytes technique as shmseg's own
// management header. Add claims the first free slot of a kind's table
// with a CAS on its occupied flag, scanning from index 0, over mmap'd
// memory instead of a Go slice.
// License: Apache-2.0
package service

import (
	"sync/atomic"
	"unsafe"

	"github.com/momentics/shmipc/ids"
	"github.com/momentics/shmipc/ipcerr"
)

// PortKind selects which sub-table of the dynamic registry an entry
// belongs to.
type PortKind int

const (
	PortPublisher PortKind = iota
	PortSubscriber
	PortNotifier
	PortListener
	PortClient
	PortServer
	portKindCount
)

// entryLayout: occupied(u32) + portID(16) + nodeID(16) + capacityHint(u32) = 40 bytes.
const entrySize = 40

// Registry is the dynamic registry for one service, one fixed-capacity
// table per port kind, all living in a single shmseg payload.
type Registry struct {
	region    []byte
	perKind   int // capacity per PortKind, all kinds sized equally
	tableBase [portKindCount]int
}

// MemorySize returns the bytes Registry needs for capacityPerKind
// entries in each of the six port-kind tables — the value callers pass
// to shmseg.Create/OpenOrCreate for `iox2_<service-id>.dynamic`.
func MemorySize(capacityPerKind int) int {
	return int(portKindCount) * capacityPerKind * entrySize
}

// NewRegistry lays a Registry over region, which must be at least
// MemorySize(capacityPerKind) bytes (typically Segment.Payload()).
func NewRegistry(region []byte, capacityPerKind int) *Registry {
	r := &Registry{region: region, perKind: capacityPerKind}
	for k := 0; k < int(portKindCount); k++ {
		r.tableBase[k] = k * capacityPerKind * entrySize
	}
	return r
}

func (r *Registry) slot(kind PortKind, i int) []byte {
	base := r.tableBase[kind] + i*entrySize
	return r.region[base : base+entrySize]
}

func occupiedPtr(slot []byte) *uint32     { return (*uint32)(unsafe.Pointer(&slot[0])) }
func capacityHintPtr(slot []byte) *uint32 { return (*uint32)(unsafe.Pointer(&slot[36])) }

// Handle identifies one live registry entry.
type Handle struct {
	Kind  PortKind
	Index int
}

// Add registers portID/nodeID under kind. Fails with the per-kind
// Exceeds* code (spec §4.5) if the table for that kind is full.
func (r *Registry) Add(kind PortKind, portID, nodeID ids.ID, capacityHint uint32) (Handle, error) {
	for i := 0; i < r.perKind; i++ {
		slot := r.slot(kind, i)
		if atomic.CompareAndSwapUint32(occupiedPtr(slot), 0, 1) {
			copy(slot[4:20], portID[:])
			copy(slot[20:36], nodeID[:])
			atomic.StoreUint32(capacityHintPtr(slot), capacityHint)
			return Handle{Kind: kind, Index: i}, nil
		}
	}
	return Handle{}, ipcerr.New(exceedsCodeFor(kind), "Registry.Add").With("capacity", r.perKind)
}

func exceedsCodeFor(kind PortKind) ipcerr.Code {
	switch kind {
	case PortPublisher:
		return ipcerr.CodeExceedsMaxSupportedPublishers
	case PortSubscriber:
		return ipcerr.CodeExceedsMaxSupportedSubscribers
	case PortNotifier:
		return ipcerr.CodeExceedsMaxSupportedNotifiers
	case PortListener:
		return ipcerr.CodeExceedsMaxSupportedListeners
	case PortClient:
		return ipcerr.CodeExceedsMaxSupportedClients
	default:
		return ipcerr.CodeExceedsMaxSupportedServers
	}
}

// Remove clears an entry. Idempotent: removing an already-clear slot is
// a silent no-op (spec §4.2's idempotent-remove rule, carried into the
// shared-memory registry).
func (r *Registry) Remove(h Handle) {
	slot := r.slot(h.Kind, h.Index)
	atomic.StoreUint32(occupiedPtr(slot), 0)
}

// Entry is a snapshot of one occupied registry slot.
type Entry struct {
	Handle       Handle
	PortID       ids.ID
	NodeID       ids.ID
	CapacityHint uint32
}

// Range iterates a snapshot of entries occupied under kind at the
// moment of the call (spec §4.2's snapshot-then-iterate rule).
func (r *Registry) Range(kind PortKind, fn func(Entry) bool) {
	var snapshot []Entry
	for i := 0; i < r.perKind; i++ {
		slot := r.slot(kind, i)
		if atomic.LoadUint32(occupiedPtr(slot)) == 0 {
			continue
		}
		var e Entry
		e.Handle = Handle{Kind: kind, Index: i}
		copy(e.PortID[:], slot[4:20])
		copy(e.NodeID[:], slot[20:36])
		e.CapacityHint = atomic.LoadUint32(capacityHintPtr(slot))
		snapshot = append(snapshot, e)
	}
	for _, e := range snapshot {
		if !fn(e) {
			return
		}
	}
}

// RemoveNode clears every entry across all kinds owned by nodeID — used
// by dead-node cleanup (spec §4.5 "remove that node's entries from each
// dynamic registry"). It returns the removed entries themselves (not
// just a count) so the caller can act on each one — unlinking the
// zero-copy connections it held and signaling its neighbouring ports,
// per spec §4.5 steps (c)/(d).
func (r *Registry) RemoveNode(nodeID ids.ID) (removed []Entry) {
	for k := 0; k < int(portKindCount); k++ {
		kind := PortKind(k)
		r.Range(kind, func(e Entry) bool {
			if e.NodeID == nodeID {
				r.Remove(e.Handle)
				removed = append(removed, e)
			}
			return true
		})
	}
	return removed
}
