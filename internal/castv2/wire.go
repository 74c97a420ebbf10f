// Package castv2 implements the CASTV2 client: TLS-wrapped, length-prefixed
// Protobuf frames carrying JSON payloads, per §4.3.1. The CastMessage
// schema has exactly six stable-numbered fields, so — per §9's design
// note — a hand-rolled encoder/decoder covering wire types 0 (varint) and
// 2 (length-delimited) is sufficient; full proto reflection is not used.
// The varint primitives themselves are gogo/protobuf's, not reimplemented.
package castv2

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/gogo/protobuf/proto"
)

// Field numbers are stable per spec; never renumber these.
const (
	fieldProtocolVersion = 1
	fieldSourceID        = 2
	fieldDestinationID   = 3
	fieldNamespace       = 4
	fieldPayloadType     = 5
	fieldPayloadUTF8     = 6
)

const (
	wireVarint = 0
	wireBytes  = 2
)

// PayloadType mirrors the proto enum; only STRING (JSON payload) is used.
const PayloadTypeString = 0

// CastMessage is the six-field wire message of §4.3.1.
type CastMessage struct {
	ProtocolVersion uint64
	SourceID        string
	DestinationID   string
	Namespace       string
	PayloadType     uint64
	PayloadUTF8     string
}

func tag(fieldNum, wireType int) uint64 {
	return uint64(fieldNum)<<3 | uint64(wireType)
}

// MarshalMessage serializes m into a raw protobuf byte sequence (no length
// prefix — see WriteFrame for that).
func MarshalMessage(m CastMessage) []byte {
	var buf []byte
	buf = append(buf, proto.EncodeVarint(tag(fieldProtocolVersion, wireVarint))...)
	buf = append(buf, proto.EncodeVarint(m.ProtocolVersion)...)

	buf = appendString(buf, fieldSourceID, m.SourceID)
	buf = appendString(buf, fieldDestinationID, m.DestinationID)
	buf = appendString(buf, fieldNamespace, m.Namespace)

	buf = append(buf, proto.EncodeVarint(tag(fieldPayloadType, wireVarint))...)
	buf = append(buf, proto.EncodeVarint(m.PayloadType)...)

	buf = appendString(buf, fieldPayloadUTF8, m.PayloadUTF8)
	return buf
}

func appendString(buf []byte, fieldNum int, s string) []byte {
	buf = append(buf, proto.EncodeVarint(tag(fieldNum, wireBytes))...)
	buf = append(buf, proto.EncodeVarint(uint64(len(s)))...)
	buf = append(buf, s...)
	return buf
}

// UnmarshalMessage decodes a raw protobuf byte sequence into a CastMessage.
// Unknown fields are skipped (wire-type-aware), tolerating future fields a
// peer might add — property 6's "modulo unknown-field tolerance".
func UnmarshalMessage(data []byte) (CastMessage, error) {
	var m CastMessage
	for len(data) > 0 {
		tagVal, n := proto.DecodeVarint(data)
		if n == 0 {
			return m, fmt.Errorf("castv2: truncated tag")
		}
		data = data[n:]
		fieldNum := int(tagVal >> 3)
		wireType := int(tagVal & 0x7)

		switch wireType {
		case wireVarint:
			v, n := proto.DecodeVarint(data)
			if n == 0 {
				return m, fmt.Errorf("castv2: truncated varint for field %d", fieldNum)
			}
			data = data[n:]
			switch fieldNum {
			case fieldProtocolVersion:
				m.ProtocolVersion = v
			case fieldPayloadType:
				m.PayloadType = v
			}
		case wireBytes:
			length, n := proto.DecodeVarint(data)
			if n == 0 {
				return m, fmt.Errorf("castv2: truncated length for field %d", fieldNum)
			}
			data = data[n:]
			if uint64(len(data)) < length {
				return m, fmt.Errorf("castv2: truncated payload for field %d", fieldNum)
			}
			val := string(data[:length])
			data = data[length:]
			switch fieldNum {
			case fieldSourceID:
				m.SourceID = val
			case fieldDestinationID:
				m.DestinationID = val
			case fieldNamespace:
				m.Namespace = val
			case fieldPayloadUTF8:
				m.PayloadUTF8 = val
			}
		default:
			return m, fmt.Errorf("castv2: unsupported wire type %d for field %d", wireType, fieldNum)
		}
	}
	return m, nil
}

// WriteFrame writes the 4-byte big-endian length prefix followed by the
// serialized message (§4.3.1's wire framing).
func WriteFrame(w io.Writer, m CastMessage) error {
	body := MarshalMessage(m)
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadFrame reads one length-prefixed frame and decodes it.
func ReadFrame(r io.Reader) (CastMessage, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return CastMessage{}, err
	}
	length := binary.BigEndian.Uint32(lenPrefix[:])
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return CastMessage{}, err
	}
	return UnmarshalMessage(body)
}
