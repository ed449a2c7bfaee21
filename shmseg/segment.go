// File: shmseg/segment.go
// Package shmseg implements the named, OS-backed shared-memory segment
// (spec §3 "Shared-memory segment", §4.1): a small atomically-published
// management header followed by a payload region owned by an allocator
// from shmalloc.
//
// Grounded on the teacher's pool/bufferpool_linux.go build-tag-gated
// mmap backend and core/buffer/ring.go's header-then-payload layout,
// generalized from a process-local ring to a POSIX /dev/shm object
// shared across processes, using golang.org/x/sys/unix exactly as the
// teacher does for raw syscalls. The create-or-open two-phase
// "initializing"→"ready" protocol follows
// original_source/iceoryx2-cal/src/shared_memory/posix/mod.rs.
// License: Apache-2.0
package shmseg

import (
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/momentics/shmipc/ipcerr"
)

const (
	stateUninitialized uint32 = 0
	stateInitializing  uint32 = 1
	stateReady         uint32 = 2

	// headerSize: state(4) + refcount(4) + maxAlign(4) + pad(4) + totalSize(8)
	headerSize = 24

	shmDir = "/dev/shm"
)

// Segment is a mapped view of a named shared-memory object. The first
// headerSize bytes are the management header; Payload() exposes the
// rest.
type Segment struct {
	name     string
	fd       int
	mapping  []byte
	owns     bool // true if this process created the segment (unlinks on last release)
	totalLen int
}

func header(mapping []byte) struct {
	state    *uint32
	refcount *uint32
	maxAlign *uint32
	total    *uint64
} {
	return struct {
		state    *uint32
		refcount *uint32
		maxAlign *uint32
		total    *uint64
	}{
		state:    (*uint32)(unsafe.Pointer(&mapping[0])),
		refcount: (*uint32)(unsafe.Pointer(&mapping[4])),
		maxAlign: (*uint32)(unsafe.Pointer(&mapping[8])),
		total:    (*uint64)(unsafe.Pointer(&mapping[16])),
	}
}

// shmPath returns the /dev/shm path unix.ShmOpen-style tooling expects;
// Go lacks shm_open, so we open directly under /dev/shm with O_CREAT.
func shmPath(name string) string { return shmDir + "/" + name }

// Create makes a new named segment of totalSize bytes honoring
// maxAlign, and atomically publishes its header. Fails with
// ipcerr.CodeSegmentCorrupted wrapping the EEXIST error if an object
// named name already exists, whatever state its header is in.
func Create(name string, totalSize int, maxAlign uint32) (*Segment, error) {
	const op = "shmseg.Create"
	path := shmPath(name)

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0666)
	if err != nil {
		return nil, ipcerr.Wrap(ipcerr.CodeSegmentCorrupted, op, err).With("name", name)
	}
	full := headerSize + totalSize
	if err := unix.Ftruncate(fd, int64(full)); err != nil {
		unix.Close(fd)
		os.Remove(path)
		return nil, ipcerr.Wrap(ipcerr.CodeOutOfMemory, op, err).With("name", name)
	}
	mapping, err := unix.Mmap(fd, 0, full, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		os.Remove(path)
		return nil, ipcerr.Wrap(ipcerr.CodeOutOfMemory, op, err).With("name", name)
	}

	h := header(mapping)
	atomic.StoreUint32(h.state, stateInitializing)
	atomic.StoreUint32(h.refcount, 1)
	atomic.StoreUint32(h.maxAlign, maxAlign)
	atomic.StoreUint64(h.total, uint64(totalSize))
	atomic.StoreUint32(h.state, stateReady)

	return &Segment{name: name, fd: fd, mapping: mapping, owns: true, totalLen: full}, nil
}

// OpenOrCreate opens name if it already exists and is ready, or creates
// it with the supplied parameters otherwise. It tries Create first and,
// if Create fails for any reason, falls back to a single Open.
func OpenOrCreate(name string, totalSize int, maxAlign uint32, openTimeout time.Duration) (*Segment, error) {
	seg, err := Create(name, totalSize, maxAlign)
	if err == nil {
		return seg, nil
	}
	return Open(name, totalSize, maxAlign, openTimeout)
}

// Open maps an existing segment, waiting up to openTimeout for the
// creator to flip the header from "initializing" to "ready". Fails with
// CodeInitializationIncomplete on timeout, or CodeSegmentCorrupted if
// the opened segment's recorded size/alignment disagree with the
// caller's expectations.
func Open(name string, expectSize int, expectMaxAlign uint32, openTimeout time.Duration) (*Segment, error) {
	const op = "shmseg.Open"
	path := shmPath(name)

	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, ipcerr.Wrap(ipcerr.CodeSegmentCorrupted, op, err).With("name", name)
	}

	// A creator that has opened the file but not yet sized it leaves it
	// shorter than the header; wait for Ftruncate like for the ready flag.
	deadline := time.Now().Add(openTimeout)
	var st unix.Stat_t
	for {
		if err := unix.Fstat(fd, &st); err != nil {
			unix.Close(fd)
			return nil, ipcerr.Wrap(ipcerr.CodeSegmentCorrupted, op, err).With("name", name)
		}
		if int(st.Size) >= headerSize || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	full := int(st.Size)
	if full < headerSize {
		unix.Close(fd)
		return nil, ipcerr.New(ipcerr.CodeInitializationIncomplete, op).With("name", name)
	}

	mapping, err := unix.Mmap(fd, 0, full, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, ipcerr.Wrap(ipcerr.CodeOutOfMemory, op, err).With("name", name)
	}

	h := header(mapping)
	for s := atomic.LoadUint32(h.state); s == stateUninitialized || s == stateInitializing; s = atomic.LoadUint32(h.state) {
		if time.Now().After(deadline) {
			unix.Munmap(mapping)
			unix.Close(fd)
			return nil, ipcerr.New(ipcerr.CodeInitializationIncomplete, op).With("name", name)
		}
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadUint32(h.state) != stateReady {
		unix.Munmap(mapping)
		unix.Close(fd)
		return nil, ipcerr.New(ipcerr.CodeSegmentCorrupted, op).With("name", name)
	}

	gotTotal := atomic.LoadUint64(h.total)
	gotAlign := atomic.LoadUint32(h.maxAlign)
	if expectSize >= 0 && gotTotal != uint64(expectSize) {
		unix.Munmap(mapping)
		unix.Close(fd)
		return nil, ipcerr.New(ipcerr.CodeSegmentCorrupted, op).
			With("name", name).With("want", expectSize).With("got", gotTotal)
	}
	if expectMaxAlign != 0 && gotAlign != expectMaxAlign {
		unix.Munmap(mapping)
		unix.Close(fd)
		return nil, ipcerr.New(ipcerr.CodeSegmentCorrupted, op).
			With("name", name).With("want", expectMaxAlign).With("got", gotAlign)
	}

	atomic.AddUint32(h.refcount, 1)
	return &Segment{name: name, fd: fd, mapping: mapping, owns: false, totalLen: full}, nil
}

// Payload returns the slice view beyond the management header, ready to
// be handed to a shmalloc allocator.
func (s *Segment) Payload() []byte { return s.mapping[headerSize:] }

// MaxAlign returns the alignment recorded at creation time.
func (s *Segment) MaxAlign() uint32 { return atomic.LoadUint32(header(s.mapping).maxAlign) }

// TotalSize returns the payload size recorded at creation time.
func (s *Segment) TotalSize() uint64 { return atomic.LoadUint64(header(s.mapping).total) }

// Name returns the segment's OS object name.
func (s *Segment) Name() string { return s.name }

// Release decrements the reference count and unmaps this Segment's
// view. If this call observes the 1→0 transition and this Segment is
// the one Create returned, it also unlinks the underlying OS object; a
// last release through a Segment returned by Open leaves the object in
// place (spec §3: "on last-owner release the underlying
// OS object is unlinked if and only if ownership was retained").
func (s *Segment) Release() error {
	h := header(s.mapping)
	remaining := atomic.AddUint32(h.refcount, ^uint32(0)) // fetch_sub(1)
	lastOwner := remaining == 0

	if err := unix.Munmap(s.mapping); err != nil {
		unix.Close(s.fd)
		return ipcerr.Wrap(ipcerr.CodeSegmentCorrupted, "shmseg.Release", err).With("name", s.name)
	}
	unix.Close(s.fd)

	if lastOwner && s.owns {
		if err := os.Remove(shmPath(s.name)); err != nil && !os.IsNotExist(err) {
			return ipcerr.Wrap(ipcerr.CodeSegmentCorrupted, "shmseg.Release", err).With("name", s.name)
		}
	}
	return nil
}

// RefCount reports the current reference count.
func (s *Segment) RefCount() uint32 { return atomic.LoadUint32(header(s.mapping).refcount) }
