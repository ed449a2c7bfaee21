// File: lockfree/id_tracker.go
// Package lockfree — IDTracker, the MPMC trigger-id bitset behind event
// channels. add() is a concurrent, wait-free fetch-or; acquire()/
// acquireAll() drain set bits with acquire/release semantics so a bit
// set before a listener's wake-up is guaranteed visible after it reads
// the corresponding word (spec §4.2).
// License: Apache-2.0
package lockfree

import (
	"math/bits"
	"sync/atomic"
)

const wordBits = 64

// IDTracker is a fixed-capacity bitset where bit i corresponds to a
// user-defined trigger/event ID in [0, TriggerIDMax()].
type IDTracker struct {
	words  []atomic.Uint64
	cursor atomic.Uint64 // round-robin starting word for Acquire
	max    int
}

// NewIDTracker constructs a tracker supporting IDs in [0, capacity). A
// capacity of zero panics (B3: zero-capacity constructions must fail).
func NewIDTracker(capacity int) *IDTracker {
	if capacity <= 0 {
		panic("lockfree: IDTracker capacity must be > 0")
	}
	nwords := (capacity + wordBits - 1) / wordBits
	return &IDTracker{
		words: make([]atomic.Uint64, nwords),
		max:   capacity - 1,
	}
}

// TriggerIDMax returns capacity-1, the largest legal trigger ID (B1).
func (t *IDTracker) TriggerIDMax() int {
	return t.max
}

// Add sets bit id atomically (release ordering via fetch-or — Go's
// atomic.Uint64.Or is a read-modify-write with full acq/rel semantics).
func (t *IDTracker) Add(id int) {
	word, bit := id/wordBits, uint(id%wordBits)
	t.words[word].Or(uint64(1) << bit)
}

// Acquire returns any one set bit, clearing it, or ok=false if none are
// set. Scanning starts from a round-robin cursor so repeated calls don't
// starve high-numbered IDs.
func (t *IDTracker) Acquire() (id int, ok bool) {
	n := len(t.words)
	start := int(t.cursor.Add(1)-1) % n
	for i := 0; i < n; i++ {
		w := (start + i) % n
		for {
			val := t.words[w].Load()
			if val == 0 {
				break
			}
			bit := bits.TrailingZeros64(val)
			mask := uint64(1) << uint(bit)
			if t.words[w].CompareAndSwap(val, val&^mask) {
				return w*wordBits + bit, true
			}
			// lost the race, retry against the fresh value
		}
	}
	return 0, false
}

// AcquireAll drains every set bit at the moment of the call, invoking cb
// exactly once per bit (Q4). Each word is atomically swapped to zero so
// bits set concurrently during the scan either land in this call's
// result or the next one's, never both and never neither.
func (t *IDTracker) AcquireAll(cb func(id int)) {
	for w := range t.words {
		val := t.words[w].Swap(0)
		for val != 0 {
			bit := bits.TrailingZeros64(val)
			cb(w*wordBits + bit)
			val &^= uint64(1) << uint(bit)
		}
	}
}
