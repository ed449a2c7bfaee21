// File: zerocopy/used_chunk_list.go
// usedChunkList tracks offsets borrowed by a receiver but not yet
// released (spec §4.3a). Fixed capacity, occupied-flag-per-slot linear
// scan over a caller-owned byte region — the same atomics-over-raw-
// bytes technique service/registry.go's occupiedPtr/slot helpers use,
// required here because the list must be visible to whichever process
// maps this connection's segment, not just the one that happened to
// construct the Go wrapper around it.
//
// Grounded on original_source/iceoryx2-cal/src/zero_copy_connection/
// used_chunk_list.rs for the insert/remove contract.
// License: Apache-2.0
package zerocopy

import (
	"sync/atomic"
	"unsafe"

	"github.com/momentics/shmipc/shmalloc"
)

// usedChunkEntrySize: occupied(u32) + pad(4) + value(8) = 16 bytes.
const usedChunkEntrySize = 16

// usedChunkMemSize returns the bytes a usedChunkList needs to hold
// capacity entries.
func usedChunkMemSize(capacity int) int { return capacity * usedChunkEntrySize }

// usedChunkList is a fixed-capacity set of borrowed offsets, laid
// directly over region.
type usedChunkList struct {
	region   []byte
	capacity int
}

// newUsedChunkList lays a usedChunkList over region, which must be at
// least usedChunkMemSize(capacity) bytes.
func newUsedChunkList(region []byte, capacity int) *usedChunkList {
	return &usedChunkList{region: region, capacity: capacity}
}

func (l *usedChunkList) slot(i int) []byte {
	base := i * usedChunkEntrySize
	return l.region[base : base+usedChunkEntrySize]
}

func occupiedPtr(slot []byte) *uint32 { return (*uint32)(unsafe.Pointer(&slot[0])) }
func valuePtr(slot []byte) *uint64    { return (*uint64)(unsafe.Pointer(&slot[8])) }

// Len reports the number of currently borrowed offsets.
func (l *usedChunkList) Len() int {
	n := 0
	for i := 0; i < l.capacity; i++ {
		if atomic.LoadUint32(occupiedPtr(l.slot(i))) != 0 {
			n++
		}
	}
	return n
}

// Capacity returns the fixed maximum.
func (l *usedChunkList) Capacity() int { return l.capacity }

// Insert records offset as borrowed. Returns false if the list is at
// capacity (caller maps this to ReceiveWouldExceedMaxBorrowValue).
func (l *usedChunkList) Insert(offset shmalloc.PointerOffset) bool {
	for i := 0; i < l.capacity; i++ {
		slot := l.slot(i)
		if atomic.CompareAndSwapUint32(occupiedPtr(slot), 0, 1) {
			atomic.StoreUint64(valuePtr(slot), uint64(offset))
			return true
		}
	}
	return false
}

// Remove releases offset. A double-release (offset not present) is a
// silent no-op, returning false, matching spec §4.3a's "guards against
// double-release".
func (l *usedChunkList) Remove(offset shmalloc.PointerOffset) bool {
	for i := 0; i < l.capacity; i++ {
		slot := l.slot(i)
		if atomic.LoadUint32(occupiedPtr(slot)) == 0 {
			continue
		}
		if atomic.LoadUint64(valuePtr(slot)) == uint64(offset) {
			atomic.StoreUint32(occupiedPtr(slot), 0)
			return true
		}
	}
	return false
}
