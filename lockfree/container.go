// File: lockfree/container.go
// Package lockfree — Container[T] pairs a UniqueIndexSet with a slot
// array to give an MPMC collection of registered values keyed by a
// stable Handle (index + generation). It is process-local: the
// cross-process dynamic service registry (service.Registry) is a
// separate fixed-layout table and does not use it.
//
// Iteration snapshots the occupancy at entry (spec §4.2: "Iteration
// snapshots the occupancy bitmap at entry and iterates the snapshot"),
// so concurrent Add/Remove during a Range call neither panics nor skips
// entries that were live when Range started.
// License: Apache-2.0
package lockfree

import "sync/atomic"

// Handle identifies one entry in a Container. A Handle from one
// generation never aliases a different value even if its index is
// reused, because Remove bumps the slot's generation counter.
type Handle struct {
	index      int
	generation uint64
}

type containerSlot[T any] struct {
	generation atomic.Uint64
	occupied   atomic.Bool
	value      T
}

// Container is an MPMC collection of T, bounded by capacity.
type Container[T any] struct {
	indices *UniqueIndexSet
	slots   []containerSlot[T]
}

// NewContainer constructs a container with room for `capacity` entries.
func NewContainer[T any](capacity int) *Container[T] {
	return &Container[T]{
		indices: NewUniqueIndexSet(capacity),
		slots:   make([]containerSlot[T], capacity),
	}
}

// Add inserts value, returning its Handle, or ok=false if the container
// is at capacity.
func (c *Container[T]) Add(value T) (Handle, bool) {
	guard, ok := c.indices.Acquire()
	if !ok {
		return Handle{}, false
	}
	idx := guard.Index()
	slot := &c.slots[idx]
	slot.value = value
	gen := slot.generation.Load()
	slot.occupied.Store(true)
	// The IndexGuard's job was only to reserve the index; Container owns
	// release via Remove, so detach it from the set's own free-on-drop
	// semantics by never calling guard.Release() here.
	return Handle{index: idx, generation: gen}, true
}

// Remove deletes the entry behind h. Idempotent against a stale handle:
// removing twice, or removing a handle whose generation no longer
// matches the live entry, is a silent no-op (spec §4.2).
func (c *Container[T]) Remove(h Handle) {
	if h.index < 0 || h.index >= len(c.slots) {
		return
	}
	slot := &c.slots[h.index]
	if !slot.occupied.Load() || slot.generation.Load() != h.generation {
		return
	}
	if !slot.occupied.CompareAndSwap(true, false) {
		return
	}
	var zero T
	slot.value = zero
	slot.generation.Add(1)
	c.indices.occupied[h.index].Store(false)
}

// Get fetches the value behind h, or ok=false if it has been removed.
func (c *Container[T]) Get(h Handle) (value T, ok bool) {
	if h.index < 0 || h.index >= len(c.slots) {
		return value, false
	}
	slot := &c.slots[h.index]
	if !slot.occupied.Load() || slot.generation.Load() != h.generation {
		return value, false
	}
	return slot.value, true
}

// Len reports the number of entries occupied at the moment of the call.
func (c *Container[T]) Len() int {
	n := 0
	for i := range c.slots {
		if c.slots[i].occupied.Load() {
			n++
		}
	}
	return n
}

// Range iterates a snapshot of entries occupied at the moment Range was
// called. Entries added after the snapshot may or may not appear;
// entries present at snapshot time are always visited once, even if
// removed mid-iteration (their last-known value is delivered).
func (c *Container[T]) Range(fn func(h Handle, value T) bool) {
	type snapshotEntry struct {
		idx   int
		gen   uint64
		value T
	}
	snap := make([]snapshotEntry, 0, len(c.slots))
	for i := range c.slots {
		if c.slots[i].occupied.Load() {
			snap = append(snap, snapshotEntry{
				idx:   i,
				gen:   c.slots[i].generation.Load(),
				value: c.slots[i].value,
			})
		}
	}
	for _, e := range snap {
		if !fn(Handle{index: e.idx, generation: e.gen}, e.value) {
			return
		}
	}
}

// Capacity returns the fixed maximum number of entries.
func (c *Container[T]) Capacity() int { return len(c.slots) }
