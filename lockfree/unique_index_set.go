// File: lockfree/unique_index_set.go
// Package lockfree — UniqueIndexSet hands out distinct indices in
// [0, capacity) with stable release, backing Container's slot-index
// assignment (spec §3 "Unique-index set").
// License: Apache-2.0
package lockfree

import "sync/atomic"

// UniqueIndexSet distributes distinct indices from a fixed range.
type UniqueIndexSet struct {
	occupied []atomic.Bool
	freeHint atomic.Uint64 // next index to probe from, round-robin
}

// NewUniqueIndexSet constructs a set covering indices [0, capacity).
func NewUniqueIndexSet(capacity int) *UniqueIndexSet {
	if capacity <= 0 {
		panic("lockfree: UniqueIndexSet capacity must be > 0")
	}
	return &UniqueIndexSet{occupied: make([]atomic.Bool, capacity)}
}

// IndexGuard releases its index back to the set on Release. Safe to call
// Release more than once; subsequent calls are no-ops.
type IndexGuard struct {
	set   *UniqueIndexSet
	index int
	freed atomic.Bool
}

// Index returns the acquired index.
func (g *IndexGuard) Index() int { return g.index }

// Release returns the index to the set, idempotently.
func (g *IndexGuard) Release() {
	if g.freed.CompareAndSwap(false, true) {
		g.set.occupied[g.index].Store(false)
	}
}

// Acquire returns a guard over a fresh index, or ok=false if the set is
// exhausted.
func (s *UniqueIndexSet) Acquire() (*IndexGuard, bool) {
	n := len(s.occupied)
	start := int(s.freeHint.Add(1)-1) % n
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if s.occupied[idx].CompareAndSwap(false, true) {
			return &IndexGuard{set: s, index: idx}, true
		}
	}
	return nil, false
}

// Capacity returns the fixed size of the index range.
func (s *UniqueIndexSet) Capacity() int { return len(s.occupied) }
