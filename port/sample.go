// File: port/sample.go
// Package port implements the six port types (spec §4.4): Publisher,
// Subscriber, Notifier, Listener, Client, Server.
//
// Grounded on the teacher's highlevel/client.go, highlevel/server.go
// (Options-struct-plus-constructor style) and client/*.go (per-peer
// fan-out, builder pattern), with naming drawn from the Go FFI binding
// reference in other_examples (loan/send/receive/release vocabulary).
// License: Apache-2.0
package port

import (
	"github.com/momentics/shmipc/ids"
	"github.com/momentics/shmipc/shmalloc"
)

// SystemHeader is the middleware-filled header every sample/request/
// response carries (spec §3 "Sample/response/request").
type SystemHeader struct {
	OriginPortID ids.ID
	Sequence     uint64
	TimestampNs  int64
}

const systemHeaderSize = 32 // 16 (ID) + 8 (sequence) + 8 (timestamp)

func encodeSystemHeader(h SystemHeader, dst []byte) {
	copy(dst[0:16], h.OriginPortID[:])
	putU64(dst[16:24], h.Sequence)
	putU64(dst[24:32], uint64(h.TimestampNs))
}

func decodeSystemHeader(src []byte) SystemHeader {
	var h SystemHeader
	copy(h.OriginPortID[:], src[0:16])
	h.Sequence = getU64(src[16:24])
	h.TimestampNs = int64(getU64(src[24:32]))
	return h
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// Sample is a loaned, uninitialized chunk a Publisher writes into
// before send, or an initialized chunk a Subscriber reads after
// receive.
type Sample struct {
	Offset       shmalloc.PointerOffset
	SystemHeader SystemHeader
	UserHeader   []byte
	Payload      []byte

	// raw is the full chunk backing UserHeader/Payload, owned by the
	// allocator the chunk came from.
	raw []byte
}

func newSample(offset shmalloc.PointerOffset, raw []byte, userHeaderSize int) *Sample {
	s := &Sample{Offset: offset, raw: raw}
	s.UserHeader = raw[systemHeaderSize : systemHeaderSize+userHeaderSize]
	s.Payload = raw[systemHeaderSize+userHeaderSize:]
	return s
}

func (s *Sample) writeSystemHeader(h SystemHeader) {
	s.SystemHeader = h
	encodeSystemHeader(h, s.raw[0:systemHeaderSize])
}

func readSampleView(offset shmalloc.PointerOffset, raw []byte, userHeaderSize int) *Sample {
	s := newSample(offset, raw, userHeaderSize)
	s.SystemHeader = decodeSystemHeader(raw[0:systemHeaderSize])
	return s
}
