// Package protocol defines the wire messages exchanged between nodes:
// Spark hello/handshake/heartbeat (spec.md §4.2) and KvStore
// update/full-sync/delta (spec.md §4.3). Messages are hand-encoded with
// google.golang.org/protobuf/encoding/protowire's low-level varint/bytes
// primitives rather than protoc-generated types, since no .proto
// toolchain is available here; the wire shape (field numbers, varint
// framing) is standard protobuf and interoperates with generated code.
// Framing is length-prefixed exactly like the teacher's impl/utils.go
// send/receive helpers.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxPacketSize bounds a single framed message, guarding against a
// corrupt or hostile length prefix causing an unbounded allocation.
const MaxPacketSize = 1 << 20

// Marshaler is implemented by every wire message type.
type Marshaler interface {
	Marshal() []byte
}

// Unmarshaler is implemented by every wire message type.
type Unmarshaler interface {
	Unmarshal([]byte) error
}

// Message combines both directions; every protocol type implements it.
type Message interface {
	Marshaler
	Unmarshaler
}

// WriteFramed writes m to w as a big-endian uint32 length prefix
// followed by its encoded bytes, matching the teacher's send().
func WriteFramed(w io.Writer, m Marshaler) error {
	out := m.Marshal()
	if len(out) == 0 || len(out) > MaxPacketSize {
		return errors.New("protocol: packet size is invalid")
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(out))); err != nil {
		return err
	}
	_, err := w.Write(out)
	return err
}

// ReadFramed reads one length-prefixed message from r into m, matching
// the teacher's receive().
func ReadFramed(r io.Reader, m Unmarshaler) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return err
	}
	if length == 0 || length > MaxPacketSize {
		return errors.New("protocol: packet size is invalid")
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	return m.Unmarshal(buf)
}

// consumeField walks one protobuf field (tag + value) starting at b,
// invoking fn with the field number and the raw wire value. It is the
// shared decode loop every message type's Unmarshal uses in place of
// generated reflection-based unmarshaling.
func consumeField(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, varint uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("protocol: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("protocol: bad varint: %w", protowire.ParseError(n))
			}
			b = b[n:]
			if err := fn(num, typ, nil, v); err != nil {
				return err
			}
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return fmt.Errorf("protocol: bad fixed32: %w", protowire.ParseError(n))
			}
			b = b[n:]
			if err := fn(num, typ, nil, uint64(v)); err != nil {
				return err
			}
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return fmt.Errorf("protocol: bad fixed64: %w", protowire.ParseError(n))
			}
			b = b[n:]
			if err := fn(num, typ, nil, v); err != nil {
				return err
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("protocol: bad bytes: %w", protowire.ParseError(n))
			}
			b = b[n:]
			if err := fn(num, typ, v, 0); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("protocol: bad field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

// the helpers below favor clarity over micro-optimizing allocations;
// each Append* fully appends tag+value in one call.

func appendBytesValue(dst []byte, num protowire.Number, v []byte) []byte {
	dst = protowire.AppendTag(dst, num, protowire.BytesType)
	dst = protowire.AppendBytes(dst, v)
	return dst
}

func appendStr(dst []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return dst
	}
	return appendBytesValue(dst, num, []byte(s))
}

func appendBytes(dst []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return dst
	}
	return appendBytesValue(dst, num, v)
}

func appendVarint(dst []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return dst
	}
	dst = protowire.AppendTag(dst, num, protowire.VarintType)
	dst = protowire.AppendVarint(dst, v)
	return dst
}

func appendVarintAlways(dst []byte, num protowire.Number, v uint64) []byte {
	dst = protowire.AppendTag(dst, num, protowire.VarintType)
	dst = protowire.AppendVarint(dst, v)
	return dst
}

func appendSubmessage(dst []byte, num protowire.Number, m Marshaler) []byte {
	if m == nil {
		return dst
	}
	return appendBytesValue(dst, num, m.Marshal())
}
