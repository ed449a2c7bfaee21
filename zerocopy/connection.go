// File: zerocopy/connection.go
// Package zerocopy implements the per-(publisher, subscriber) zero-copy
// connection (spec §4.3, §6): a safely-overflowing SPSC queue of
// PointerOffset plus a used-chunk list and a retrieve channel, named
// `iox2_<publisher-id>_<subscriber-id>.connection` and, per spec §3/§6,
// backed by an OS shared-memory object so two unrelated processes can
// rendezvous on it by name — exactly as shmseg.Segment already gives
// service/registry.go's dynamic registry.
//
// Grounded on service/registry.go's atomics-over-a-shmseg-payload
// layout (occupiedPtr/slot-style helpers, here over ring.go/
// used_chunk_list.go instead of a flat entry table) and
// original_source/iceoryx2-cal/src/zero_copy_connection/posix_shared_memory/connection.rs
// for the overflow/reclaim wiring between a connection's two queues.
// License: Apache-2.0
package zerocopy

import (
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/momentics/shmipc/ipcerr"
	"github.com/momentics/shmipc/shmalloc"
	"github.com/momentics/shmipc/shmseg"
)

// SampleLayout records the sender's payload shape so an opener can
// verify compatibility (spec §4.3: IncompatibleBufferSize et al.).
type SampleLayout struct {
	Size      uint64
	Alignment uint64
}

// Params are the creation-time parameters recorded in a connection's
// header; an opener whose parameters disagree fails to attach.
type Params struct {
	BufferSize         int
	MaxBorrowedSamples int
	EnableSafeOverflow bool
	SenderLayout       SampleLayout
}

// connHeaderSize: ready(8) + bufferSize(8) + maxBorrowedSamples(8) +
// enableSafeOverflow(8) + senderSize(8) + senderAlignment(8) +
// senderDropped(8) + receiverDropped(8). Every field is its own 8-byte
// word so atomic access stays naturally aligned.
const connHeaderSize = 64

const (
	readyOff           = 0
	bufferSizeOff      = 8
	maxBorrowedOff     = 16
	overflowOff        = 24
	senderSizeOff      = 32
	senderAlignOff     = 40
	senderDroppedOff   = 48
	receiverDroppedOff = 56
)

func connFieldPtr(payload []byte, off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&payload[off]))
}

// MemorySize returns the payload bytes a Connection needs for params —
// the value callers pass to shmseg.Create/Open for
// `iox2_<publisher-id>_<subscriber-id>.connection`.
func MemorySize(params Params) int {
	return connHeaderSize +
		ringMemSize(params.BufferSize) +
		usedChunkMemSize(params.MaxBorrowedSamples) +
		ringMemSize(params.MaxBorrowedSamples)
}

// Connection is one sender→receiver zero-copy channel of PointerOffset,
// laid over a shmseg.Segment so both the publishing and subscribing
// process observe the same queue state.
type Connection struct {
	name   string
	params Params

	seg        *shmseg.Segment
	queue      *ring
	usedChunks *usedChunkList
	retrieve   *ring
}

// Name returns the connection's `iox2_<publisher-id>_<subscriber-id>.connection` name.
func (c *Connection) Name() string { return c.name }

func (c *Connection) wireRegions() {
	payload := c.seg.Payload()
	off := connHeaderSize
	qSize := ringMemSize(c.params.BufferSize)
	ucSize := usedChunkMemSize(c.params.MaxBorrowedSamples)
	rSize := ringMemSize(c.params.MaxBorrowedSamples)

	c.queue = newRing(payload[off:off+qSize], c.params.BufferSize)
	off += qSize
	c.usedChunks = newUsedChunkList(payload[off:off+ucSize], c.params.MaxBorrowedSamples)
	off += ucSize
	c.retrieve = newRing(payload[off:off+rSize], c.params.MaxBorrowedSamples)
}

func (c *Connection) writeHeader() {
	payload := c.seg.Payload()
	atomic.StoreUint64(connFieldPtr(payload, bufferSizeOff), uint64(c.params.BufferSize))
	atomic.StoreUint64(connFieldPtr(payload, maxBorrowedOff), uint64(c.params.MaxBorrowedSamples))
	var overflow uint64
	if c.params.EnableSafeOverflow {
		overflow = 1
	}
	atomic.StoreUint64(connFieldPtr(payload, overflowOff), overflow)
	atomic.StoreUint64(connFieldPtr(payload, senderSizeOff), c.params.SenderLayout.Size)
	atomic.StoreUint64(connFieldPtr(payload, senderAlignOff), c.params.SenderLayout.Alignment)
}

func (c *Connection) readHeader() Params {
	payload := c.seg.Payload()
	return Params{
		BufferSize:         int(atomic.LoadUint64(connFieldPtr(payload, bufferSizeOff))),
		MaxBorrowedSamples: int(atomic.LoadUint64(connFieldPtr(payload, maxBorrowedOff))),
		EnableSafeOverflow: atomic.LoadUint64(connFieldPtr(payload, overflowOff)) != 0,
		SenderLayout: SampleLayout{
			Size:      atomic.LoadUint64(connFieldPtr(payload, senderSizeOff)),
			Alignment: atomic.LoadUint64(connFieldPtr(payload, senderAlignOff)),
		},
	}
}

func waitConnectionReady(payload []byte, timeout time.Duration) error {
	const op = "Connection.Open"
	deadline := time.Now().Add(timeout)
	for atomic.LoadUint64(connFieldPtr(payload, readyOff)) == 0 {
		if time.Now().After(deadline) {
			return ipcerr.New(ipcerr.CodeInitializationIncomplete, op)
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

// New creates a brand-new connection segment named name, sized and
// initialized for params. Fails if a segment by that name already
// exists; OpenOrCreate is the usual entry point since either peer may
// win the create race (spec §3: "both endpoints open by name").
func New(name string, params Params) (*Connection, error) {
	seg, err := shmseg.Create(name, MemorySize(params), 8)
	if err != nil {
		return nil, err
	}
	c := &Connection{name: name, params: params, seg: seg}
	c.wireRegions()
	c.writeHeader()
	c.queue.init()
	c.retrieve.init()
	atomic.StoreUint64(connFieldPtr(seg.Payload(), readyOff), 1)
	return c, nil
}

// Open maps an existing connection segment named name, waiting up to
// timeout for its creator to finish publishing the header, then
// verifies it against want (spec §4.3's opener-parameter-mismatch
// errors).
func Open(name string, want Params, timeout time.Duration) (*Connection, error) {
	seg, err := shmseg.Open(name, -1, 0, timeout)
	if err != nil {
		return nil, err
	}
	if err := waitConnectionReady(seg.Payload(), timeout); err != nil {
		seg.Release()
		return nil, err
	}
	c := &Connection{name: name, seg: seg}
	c.params = c.readHeader()
	c.wireRegions()
	if err := c.VerifyCompatible(want); err != nil {
		seg.Release()
		return nil, err
	}
	return c, nil
}

// OpenOrCreate races an open against a create: the first caller to
// reach the name wins the create and publishes params; every later
// caller for the same name opens and verifies against its own want.
func OpenOrCreate(name string, params Params, timeout time.Duration) (*Connection, error) {
	c, err := New(name, params)
	if err == nil {
		return c, nil
	}
	return Open(name, params, timeout)
}

// VerifyCompatible checks an opener's expected parameters against this
// connection's recorded ones (spec §4.3).
func (c *Connection) VerifyCompatible(want Params) error {
	const op = "Connection.VerifyCompatible"
	if want.BufferSize != 0 && want.BufferSize != c.params.BufferSize {
		return ipcerr.New(ipcerr.CodeIncompatibleBufferSize, op).
			With("want", want.BufferSize).With("got", c.params.BufferSize)
	}
	if want.MaxBorrowedSamples != 0 && want.MaxBorrowedSamples != c.params.MaxBorrowedSamples {
		return ipcerr.New(ipcerr.CodeIncompatibleMaxBorrowedSampleSetting, op).
			With("want", want.MaxBorrowedSamples).With("got", c.params.MaxBorrowedSamples)
	}
	if want.EnableSafeOverflow != c.params.EnableSafeOverflow {
		return ipcerr.New(ipcerr.CodeIncompatibleOverflowSetting, op)
	}
	return nil
}

// TrySend delivers offset to the connection (spec §4.3 "Send path").
// Without overflow enabled, a full queue fails with CodeReceiveBufferFull.
// With overflow, the oldest entry may be displaced; the caller must
// reclaim it (it owns that chunk again).
func (c *Connection) TrySend(offset shmalloc.PointerOffset) (displaced shmalloc.PointerOffset, didDisplace bool, err error) {
	if !c.params.EnableSafeOverflow {
		if !c.queue.push(uint64(offset)) {
			return 0, false, ipcerr.New(ipcerr.CodeReceiveBufferFull, "Connection.TrySend")
		}
		return 0, false, nil
	}
	d, overflowed := c.queue.pushWithOverflow(uint64(offset))
	return shmalloc.PointerOffset(d), overflowed, nil
}

// Receive pops one offset for the receiver (spec §4.3 "Receive path").
// ok is false when the queue currently has nothing pending; offset 0 is
// otherwise a perfectly valid chunk location, so callers must check ok
// rather than testing offset against a sentinel.
func (c *Connection) Receive() (offset shmalloc.PointerOffset, ok bool, err error) {
	const op = "Connection.Receive"
	if c.usedChunks.Len() >= c.usedChunks.Capacity() {
		return 0, false, ipcerr.New(ipcerr.CodeReceiveWouldExceedMaxBorrowValue, op)
	}
	v, popped := c.queue.pop()
	if !popped {
		return 0, false, nil
	}
	offset = shmalloc.PointerOffset(v)
	c.usedChunks.Insert(offset)
	return offset, true, nil
}

// Release returns offset to the sender via the retrieve channel (spec
// §4.3 "Release path"). A double-release is a silent no-op.
func (c *Connection) Release(offset shmalloc.PointerOffset) {
	if !c.usedChunks.Remove(offset) {
		return
	}
	c.retrieve.push(uint64(offset))
}

// Reclaim drains one offset the receiver has released, for the sender
// to return to its allocator.
func (c *Connection) Reclaim() (shmalloc.PointerOffset, bool) {
	v, ok := c.retrieve.pop()
	return shmalloc.PointerOffset(v), ok
}

// MarkSenderDropped flags that the sender side has gone away; the
// receiver observes this to stop expecting new deliveries. The flag
// lives in the shared header so either side observes it regardless of
// which process calls this.
func (c *Connection) MarkSenderDropped() {
	atomic.StoreUint64(connFieldPtr(c.seg.Payload(), senderDroppedOff), 1)
}

// SenderDropped reports whether MarkSenderDropped has been called.
func (c *Connection) SenderDropped() bool {
	return atomic.LoadUint64(connFieldPtr(c.seg.Payload(), senderDroppedOff)) != 0
}

// MarkReceiverDropped flags that the receiver side has gone away.
func (c *Connection) MarkReceiverDropped() {
	atomic.StoreUint64(connFieldPtr(c.seg.Payload(), receiverDroppedOff), 1)
}

// ReceiverDropped reports whether MarkReceiverDropped has been called.
func (c *Connection) ReceiverDropped() bool {
	return atomic.LoadUint64(connFieldPtr(c.seg.Payload(), receiverDroppedOff)) != 0
}

// BorrowedCount reports the receiver's current outstanding borrow count.
func (c *Connection) BorrowedCount() int { return c.usedChunks.Len() }

// Close releases this process's mapping of the connection's segment,
// unlinking the underlying shared-memory object once every opener has
// released it (shmseg.Segment.Release's ref-counted contract).
func (c *Connection) Close() error { return c.seg.Release() }
