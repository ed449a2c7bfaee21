// File: shmalloc/bump.go
// Package shmalloc — bump allocator: a single atomic "next offset"
// counter relative to a base, used for allocations that live as long as
// the segment (registries, connection ring buffers). Deallocation is a
// no-op (spec §4.1).
//
// Grounded on original_source/iceoryx2-cal/src/shm_allocator/bump_allocator.rs:
// alignment padding is computed before the size check, and the counter
// is advanced with a single CAS so concurrent allocators racing inside
// the same mapped segment never hand out overlapping chunks.
// License: Apache-2.0
package shmalloc

import (
	"sync/atomic"

	"github.com/momentics/shmipc/ipcerr"
)

// BumpAllocator manages allocation within region[0:len(region)]. The
// caller supplies region once (typically a slice view over a mapped
// shared-memory segment's payload) and never resizes it.
type BumpAllocator struct {
	region []byte
	next   atomic.Uint64 // next free offset relative to region[0]
}

// NewBumpAllocator wraps region for bump allocation.
func NewBumpAllocator(region []byte) *BumpAllocator {
	return &BumpAllocator{region: region}
}

// TotalSpace returns the total managed byte count.
func (a *BumpAllocator) TotalSpace() int { return len(a.region) }

// FreeSpace returns an approximate remaining byte count (racy under
// concurrent allocation, exact once allocation has quiesced).
func (a *BumpAllocator) FreeSpace() int {
	used := int(a.next.Load())
	if used > len(a.region) {
		return 0
	}
	return len(a.region) - used
}

func alignUp(offset, align int) int {
	if align <= 1 {
		return offset
	}
	rem := offset % align
	if rem == 0 {
		return offset
	}
	return offset + (align - rem)
}

// Allocate carves out size bytes aligned to align, returning the byte
// offset relative to region[0]. Alignment padding is computed before the
// size check, matching the teacher-grounded Rust reference. Zero-size
// allocations fail with CodeSizeIsZero; exhaustion fails with
// CodeOutOfMemory.
func (a *BumpAllocator) Allocate(size, align int) (offset int, err error) {
	const op = "BumpAllocator.Allocate"
	if size == 0 {
		return 0, ipcerr.New(ipcerr.CodeSizeIsZero, op)
	}
	for {
		cur := a.next.Load()
		aligned := alignUp(int(cur), align)
		end := aligned + size
		if end > len(a.region) {
			return 0, ipcerr.New(ipcerr.CodeOutOfMemory, op).
				With("requested", size).With("remaining", len(a.region)-int(cur))
		}
		if a.next.CompareAndSwap(cur, uint64(end)) {
			return aligned, nil
		}
	}
}

// Deallocate is a no-op: bump allocators never reclaim individual
// chunks (spec §4.1).
func (a *BumpAllocator) Deallocate(offset, size int) {}

// Bytes returns the slice view at [offset:offset+size) within the
// managed region, for writing/reading the allocated chunk.
func (a *BumpAllocator) Bytes(offset, size int) []byte {
	return a.region[offset : offset+size]
}
