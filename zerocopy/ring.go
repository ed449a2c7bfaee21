// File: zerocopy/ring.go
// ring reimplements lockfree.SPSCQueue's Vyukov-style cell+sequence
// algorithm directly over a []byte region instead of a Go-heap slice
// of generic cells, so the structure is visible to every process
// mapping the same shmseg segment — the same atomics-over-raw-bytes
// technique service/registry.go uses for the dynamic registry, one
// level down from lockfree.Container to the wire-level slot layout.
// License: Apache-2.0
package zerocopy

import (
	"sync/atomic"
	"unsafe"
)

// ringHeaderSize: head(8) + tail(8).
const ringHeaderSize = 16

// ringCellSize: sequence(8) + value(8).
const ringCellSize = 16

// ringCapacity rounds capacity up to the next power of two, as the
// cell-index mask requires, and to at least 2: with a single cell the
// sequence numbers cannot tell a full ring from an empty one.
func ringCapacity(capacity int) int {
	size := 2
	for size < capacity {
		size <<= 1
	}
	return size
}

// ringMemSize returns the bytes a ring needs to hold capacity entries.
func ringMemSize(capacity int) int {
	return ringHeaderSize + ringCapacity(capacity)*ringCellSize
}

// ring is a single-producer single-consumer queue of uint64 values
// (a shmalloc.PointerOffset, cast) over a caller-owned byte region.
type ring struct {
	region   []byte
	size     int
	mask     uint64
	capacity int // configured entry limit; size may be larger after rounding
}

// newRing lays a ring over region, which must be at least
// ringMemSize(capacity) bytes. It does not initialize the region: call
// init() once, from whichever side created the backing segment, before
// any peer observes the connection as ready.
func newRing(region []byte, capacity int) *ring {
	size := ringCapacity(capacity)
	return &ring{region: region, size: size, mask: uint64(size - 1), capacity: capacity}
}

func (r *ring) headPtr() *uint64 { return (*uint64)(unsafe.Pointer(&r.region[0])) }
func (r *ring) tailPtr() *uint64 { return (*uint64)(unsafe.Pointer(&r.region[8])) }

func (r *ring) cellOffset(i uint64) int { return ringHeaderSize + int(i)*ringCellSize }

func (r *ring) seqPtr(i uint64) *uint64 {
	return (*uint64)(unsafe.Pointer(&r.region[r.cellOffset(i)]))
}

func (r *ring) valPtr(i uint64) *uint64 {
	return (*uint64)(unsafe.Pointer(&r.region[r.cellOffset(i)+8]))
}

// init publishes the ring's initial empty state.
func (r *ring) init() {
	atomic.StoreUint64(r.headPtr(), 0)
	atomic.StoreUint64(r.tailPtr(), 0)
	for i := 0; i < r.size; i++ {
		atomic.StoreUint64(r.seqPtr(uint64(i)), uint64(i))
	}
}

// push enqueues val; returns false if the ring is full.
func (r *ring) push(val uint64) bool {
	for {
		tail := atomic.LoadUint64(r.tailPtr())
		if tail-atomic.LoadUint64(r.headPtr()) >= uint64(r.capacity) {
			return false // full at the configured capacity
		}
		idx := tail & r.mask
		seqP := r.seqPtr(idx)
		seq := atomic.LoadUint64(seqP)
		diff := int64(seq) - int64(tail)

		if diff == 0 {
			if atomic.CompareAndSwapUint64(r.tailPtr(), tail, tail+1) {
				atomic.StoreUint64(r.valPtr(idx), val)
				atomic.StoreUint64(seqP, tail+1)
				return true
			}
		} else if diff < 0 {
			return false // full
		}
		// else: tail moved underneath us, retry
	}
}

// pop dequeues the oldest value; ok is false if the ring is empty.
func (r *ring) pop() (uint64, bool) {
	for {
		head := atomic.LoadUint64(r.headPtr())
		idx := head & r.mask
		seqP := r.seqPtr(idx)
		seq := atomic.LoadUint64(seqP)
		diff := int64(seq) - int64(head+1)

		if diff == 0 {
			if atomic.CompareAndSwapUint64(r.headPtr(), head, head+1) {
				v := atomic.LoadUint64(r.valPtr(idx))
				atomic.StoreUint64(seqP, head+r.mask+1)
				return v, true
			}
		} else if diff < 0 {
			return 0, false // empty
		}
		// else: head moved underneath us, retry
	}
}

// pushWithOverflow pushes val, displacing and returning the oldest
// entry if the ring was full (spec §4.3 "safe overflow"); the FIFO
// order of the surviving elements is preserved.
func (r *ring) pushWithOverflow(val uint64) (displaced uint64, overflowed bool) {
	if r.push(val) {
		return 0, false
	}
	old, ok := r.pop()
	if !ok {
		// Raced with the consumer and a slot freed up; just push normally.
		r.push(val)
		return 0, false
	}
	r.push(val)
	return old, true
}

func (r *ring) len() int {
	return int(atomic.LoadUint64(r.tailPtr()) - atomic.LoadUint64(r.headPtr()))
}

func (r *ring) cap() int { return r.size }
