// File: shmalloc/pool.go
// Package shmalloc — pool allocator: fixed-size buckets carved out of a
// region at construction time, with an in-band lock-free free list
// (each free chunk's first 4 bytes hold the index+1 of the next free
// chunk, a tagged stack to defeat ABA on the CAS-based pop).
//
// Grounded on the teacher's pool/slab_pool.go free-list design, adapted
// to the single-bucket-size model of
// original_source/iceoryx2-cal/src/shm_allocator/pool_allocator.rs —
// the Rust original supports a config of multiple bucket sizes; this
// port keeps one PoolAllocator per bucket size and expects callers that
// need multiple sizes to construct one instance per size, which keeps
// the free-list CAS loop a single, uniform-stride stack.
// License: Apache-2.0
package shmalloc

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/momentics/shmipc/ipcerr"
)

const poolMaxAlignment = 4096

// PoolAllocator hands out fixed-size, fixed-alignment chunks from region,
// tracking free chunks with an in-band singly linked stack.
type PoolAllocator struct {
	region     []byte
	bucketSize int
	align      int
	numBuckets int
	// head packs (index+1)<<32 | tag in its low/high halves; index 0
	// is ambiguous with "list empty" so it is stored offset by one.
	// tag increments on every successful pop/push to defeat ABA.
	head atomic.Uint64
}

func packHead(indexPlusOne uint32, tag uint32) uint64 {
	return uint64(indexPlusOne)<<32 | uint64(tag)
}

func unpackHead(v uint64) (indexPlusOne uint32, tag uint32) {
	return uint32(v >> 32), uint32(v)
}

// NewPoolAllocator partitions region into chunks of bucketSize bytes,
// each aligned to align. align must not exceed 4096
// (CodeExceedsMaxSupportedAlignment) and bucketSize must be at least 8
// bytes to hold the in-band free-list link.
func NewPoolAllocator(region []byte, bucketSize, align int) (*PoolAllocator, error) {
	const op = "NewPoolAllocator"
	if align > poolMaxAlignment {
		return nil, ipcerr.New(ipcerr.CodeExceedsMaxSupportedAlignment, op).
			With("align", align).With("max", poolMaxAlignment)
	}
	if bucketSize < 8 {
		return nil, ipcerr.New(ipcerr.CodeSizeIsZero, op).
			With("bucketSize", bucketSize)
	}
	base := alignUp(0, align)
	stride := alignUp(bucketSize, align)
	numBuckets := 0
	if len(region) > base {
		numBuckets = (len(region) - base) / stride
	}
	p := &PoolAllocator{
		region:     region[base:],
		bucketSize: bucketSize,
		align:      align,
		numBuckets: numBuckets,
	}
	for i := 0; i < numBuckets; i++ {
		p.pushFree(i)
	}
	return p, nil
}

func (p *PoolAllocator) stride() int { return alignUp(p.bucketSize, p.align) }

func (p *PoolAllocator) chunkBytes(index int) []byte {
	s := p.stride()
	return p.region[index*s : index*s+p.bucketSize]
}

func (p *PoolAllocator) pushFree(index int) {
	for {
		old := p.head.Load()
		oldIdxPlusOne, tag := unpackHead(old)
		binary.LittleEndian.PutUint32(p.chunkBytes(index), oldIdxPlusOne)
		next := packHead(uint32(index)+1, tag+1)
		if p.head.CompareAndSwap(old, next) {
			return
		}
	}
}

func (p *PoolAllocator) popFree() (index int, ok bool) {
	for {
		old := p.head.Load()
		idxPlusOne, tag := unpackHead(old)
		if idxPlusOne == 0 {
			return 0, false
		}
		idx := int(idxPlusOne - 1)
		nextIdxPlusOne := binary.LittleEndian.Uint32(p.chunkBytes(idx))
		next := packHead(nextIdxPlusOne, tag+1)
		if p.head.CompareAndSwap(old, next) {
			return idx, true
		}
	}
}

// Allocate returns the offset (relative to region[0] as originally
// passed to NewPoolAllocator) of one free bucket, or CodeOutOfMemory if
// the pool is exhausted. size must not exceed the configured bucket
// size.
func (p *PoolAllocator) Allocate(size, align int) (offset int, err error) {
	const op = "PoolAllocator.Allocate"
	if size == 0 {
		return 0, ipcerr.New(ipcerr.CodeSizeIsZero, op)
	}
	if size > p.bucketSize || align > p.align {
		return 0, ipcerr.New(ipcerr.CodeExceedsMaxSupportedAlignment, op).
			With("requestedSize", size).With("bucketSize", p.bucketSize)
	}
	idx, ok := p.popFree()
	if !ok {
		return 0, ipcerr.New(ipcerr.CodeOutOfMemory, op).
			With("numBuckets", p.numBuckets)
	}
	return idx * p.stride(), nil
}

// Deallocate returns the bucket at offset to the free list.
func (p *PoolAllocator) Deallocate(offset, size int) {
	idx := offset / p.stride()
	p.pushFree(idx)
}

// Bytes returns the slice view of the bucket at offset.
func (p *PoolAllocator) Bytes(offset, size int) []byte {
	return p.region[offset : offset+size]
}

// NumBuckets reports the fixed number of buckets this pool manages.
func (p *PoolAllocator) NumBuckets() int { return p.numBuckets }

// BucketSize reports the usable size of each bucket.
func (p *PoolAllocator) BucketSize() int { return p.bucketSize }
