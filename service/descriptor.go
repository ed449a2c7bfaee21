// File: service/descriptor.go
// Package service implements the static service descriptor (spec §6
// "Service static descriptor wire layout") and the dynamic service
// registry (spec §3 "Dynamic service registry", §4.5 "Service dynamic
// registry update").
//
// Grounded on original_source/iceoryx2-cal/src/static_storage/mod.rs
// for the create/open/open_or_create state machine, and on the
// teacher's control/config.go style of a small self-describing binary
// header (magic + version) preceding a structured body.
// License: Apache-2.0
package service

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/momentics/shmipc/ipcerr"
)

// Pattern identifies a messaging pattern (spec §6 wire tag values).
type Pattern uint8

const (
	PatternPubSub     Pattern = 1
	PatternEvent      Pattern = 2
	PatternReqResp    Pattern = 3
	PatternBlackboard Pattern = 4
)

func (p Pattern) String() string {
	switch p {
	case PatternPubSub:
		return "PubSub"
	case PatternEvent:
		return "Event"
	case PatternReqResp:
		return "ReqResp"
	case PatternBlackboard:
		return "Blackboard"
	default:
		return fmt.Sprintf("Pattern(%d)", uint8(p))
	}
}

// TypeVariant distinguishes fixed-size payloads from dynamically sized
// ones (spec §4.5 "Type compatibility rule").
type TypeVariant uint8

const (
	VariantFixedSize TypeVariant = 1
	VariantDynamic   TypeVariant = 2
)

// TypeDescriptor describes one of a service's three typed slots
// (system_header, user_header, payload).
type TypeDescriptor struct {
	Variant   TypeVariant
	TypeName  string
	Size      uint64
	Alignment uint64
}

// Compatible reports whether a caller requiring `want` may attach to a
// service whose stored descriptor is `stored`, per spec §4.5: names and
// variants must match exactly; the caller's required alignment must be
// ≤ the stored alignment; size must match exactly for FixedSize, and
// stand for per-element size for Dynamic.
func (want TypeDescriptor) Compatible(stored TypeDescriptor) bool {
	if want.Variant != stored.Variant || want.TypeName != stored.TypeName {
		return false
	}
	if want.Alignment > stored.Alignment {
		return false
	}
	return want.Size == stored.Size
}

// Attribute is one ordered (key, value) pair in a descriptor's
// attribute set.
type Attribute struct {
	Key   string
	Value string
}

// Descriptor is the immutable, binary-stable static service descriptor
// (spec §6). Config is an opaque, pattern-specific block of bytes that
// this package stores and returns unchanged; no encoder for the
// PubSub/Event/ReqResp/Blackboard settings exists in this module.
type Descriptor struct {
	Version      uint16
	Name         string
	Pattern      Pattern
	Config       []byte
	SystemHeader TypeDescriptor
	UserHeader   TypeDescriptor
	Payload      TypeDescriptor
	Attributes   []Attribute
}

const (
	wireMagic         = "IOX2"
	currentWireVer    = uint16(1)
	maxServiceNameLen = 255
)

func putLPString(buf *bytes.Buffer, s string) error {
	if len(s) > maxServiceNameLen {
		return ipcerr.New(ipcerr.CodeUnknown, "service.putLPString").With("len", len(s))
	}
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
	return nil
}

func getLPString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func putType(buf *bytes.Buffer, t TypeDescriptor) error {
	buf.WriteByte(byte(t.Variant))
	if err := putLPString(buf, t.TypeName); err != nil {
		return err
	}
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], t.Size)
	buf.Write(tmp[:])
	binary.LittleEndian.PutUint64(tmp[:], t.Alignment)
	buf.Write(tmp[:])
	return nil
}

func getType(r *bytes.Reader) (TypeDescriptor, error) {
	var t TypeDescriptor
	variant, err := r.ReadByte()
	if err != nil {
		return t, err
	}
	t.Variant = TypeVariant(variant)
	if t.TypeName, err = getLPString(r); err != nil {
		return t, err
	}
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return t, err
	}
	t.Size = binary.LittleEndian.Uint64(tmp[:])
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return t, err
	}
	t.Alignment = binary.LittleEndian.Uint64(tmp[:])
	return t, nil
}

// MarshalBinary encodes the descriptor per spec §6's stable,
// little-endian wire layout.
func (d Descriptor) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteString(wireMagic)
	var tmp2 [2]byte
	binary.LittleEndian.PutUint16(tmp2[:], currentWireVer)
	buf.Write(tmp2[:])
	binary.LittleEndian.PutUint16(tmp2[:], 0) // reserved
	buf.Write(tmp2[:])

	if err := putLPString(buf, d.Name); err != nil {
		return nil, err
	}
	buf.WriteByte(byte(d.Pattern))

	binary.LittleEndian.PutUint16(tmp2[:], uint16(len(d.Config)))
	buf.Write(tmp2[:])
	buf.Write(d.Config)

	for _, t := range []TypeDescriptor{d.SystemHeader, d.UserHeader, d.Payload} {
		if err := putType(buf, t); err != nil {
			return nil, err
		}
	}

	binary.LittleEndian.PutUint16(tmp2[:], uint16(len(d.Attributes)))
	buf.Write(tmp2[:])
	for _, a := range d.Attributes {
		if err := putLPString(buf, a.Key); err != nil {
			return nil, err
		}
		if err := putLPString(buf, a.Value); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a descriptor previously produced by
// MarshalBinary. Fails with CodeSegmentCorrupted on a bad magic or a
// truncated/malformed body.
func (d *Descriptor) UnmarshalBinary(data []byte) error {
	const op = "Descriptor.UnmarshalBinary"
	if len(data) < 8 || string(data[0:4]) != wireMagic {
		return ipcerr.New(ipcerr.CodeSegmentCorrupted, op)
	}
	r := bytes.NewReader(data[4:])
	var tmp2 [2]byte
	if _, err := io.ReadFull(r, tmp2[:]); err != nil {
		return ipcerr.Wrap(ipcerr.CodeSegmentCorrupted, op, err)
	}
	d.Version = binary.LittleEndian.Uint16(tmp2[:])
	if _, err := io.ReadFull(r, tmp2[:]); err != nil { // reserved
		return ipcerr.Wrap(ipcerr.CodeSegmentCorrupted, op, err)
	}

	var err error
	if d.Name, err = getLPString(r); err != nil {
		return ipcerr.Wrap(ipcerr.CodeSegmentCorrupted, op, err)
	}
	pat, err := r.ReadByte()
	if err != nil {
		return ipcerr.Wrap(ipcerr.CodeSegmentCorrupted, op, err)
	}
	d.Pattern = Pattern(pat)

	if _, err := io.ReadFull(r, tmp2[:]); err != nil {
		return ipcerr.Wrap(ipcerr.CodeSegmentCorrupted, op, err)
	}
	cfgLen := binary.LittleEndian.Uint16(tmp2[:])
	d.Config = make([]byte, cfgLen)
	if cfgLen > 0 {
		if _, err := io.ReadFull(r, d.Config); err != nil {
			return ipcerr.Wrap(ipcerr.CodeSegmentCorrupted, op, err)
		}
	}

	if d.SystemHeader, err = getType(r); err != nil {
		return ipcerr.Wrap(ipcerr.CodeSegmentCorrupted, op, err)
	}
	if d.UserHeader, err = getType(r); err != nil {
		return ipcerr.Wrap(ipcerr.CodeSegmentCorrupted, op, err)
	}
	if d.Payload, err = getType(r); err != nil {
		return ipcerr.Wrap(ipcerr.CodeSegmentCorrupted, op, err)
	}

	if _, err := io.ReadFull(r, tmp2[:]); err != nil {
		return ipcerr.Wrap(ipcerr.CodeSegmentCorrupted, op, err)
	}
	n := binary.LittleEndian.Uint16(tmp2[:])
	d.Attributes = make([]Attribute, 0, n)
	for i := uint16(0); i < n; i++ {
		k, err := getLPString(r)
		if err != nil {
			return ipcerr.Wrap(ipcerr.CodeSegmentCorrupted, op, err)
		}
		v, err := getLPString(r)
		if err != nil {
			return ipcerr.Wrap(ipcerr.CodeSegmentCorrupted, op, err)
		}
		d.Attributes = append(d.Attributes, Attribute{Key: k, Value: v})
	}
	return nil
}
