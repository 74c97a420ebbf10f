package castv2

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/gogo/protobuf/proto"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	m := CastMessage{
		ProtocolVersion: 0,
		SourceID:        "sender-0",
		DestinationID:   "receiver-0",
		Namespace:       "urn:x-cast:com.google.cast.tp.connection",
		PayloadType:     PayloadTypeString,
		PayloadUTF8:     `{"type":"CONNECT"}`,
	}

	got, err := UnmarshalMessage(MarshalMessage(m))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != m {
		t.Fatalf("round trip mismatch:\n got: %+v\nwant: %+v", got, m)
	}
}

// TestFrameEncodesLengthPrefix covers S7/property 6: the 4-byte prefix
// equals the length of the trailing protobuf bytes, and those bytes
// decode back to the original fields plus protocol_version=0 and
// payload_type=0.
func TestFrameEncodesLengthPrefix(t *testing.T) {
	m := CastMessage{
		SourceID:      "sender-0",
		DestinationID: "receiver-0",
		Namespace:     "urn:x-cast:com.google.cast.tp.connection",
		PayloadUTF8:   `{"type":"CONNECT"}`,
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, m); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	raw := buf.Bytes()
	if len(raw) < 4 {
		t.Fatalf("frame too short: %d", len(raw))
	}
	prefixLen := binary.BigEndian.Uint32(raw[:4])
	if int(prefixLen) != len(raw)-4 {
		t.Fatalf("length prefix %d does not match trailing bytes %d", prefixLen, len(raw)-4)
	}

	decoded, err := UnmarshalMessage(raw[4:])
	if err != nil {
		t.Fatalf("unmarshal trailing bytes: %v", err)
	}
	if decoded.ProtocolVersion != 0 || decoded.PayloadType != 0 {
		t.Fatalf("expected zero-valued protocol_version/payload_type, got %+v", decoded)
	}
	if decoded.SourceID != m.SourceID || decoded.DestinationID != m.DestinationID ||
		decoded.Namespace != m.Namespace || decoded.PayloadUTF8 != m.PayloadUTF8 {
		t.Fatalf("field mismatch: %+v vs %+v", decoded, m)
	}
}

func TestReadFrameRoundTrip(t *testing.T) {
	m := CastMessage{SourceID: "sender-0", DestinationID: "receiver-0", Namespace: "ns", PayloadUTF8: "{}"}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, m); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != m {
		t.Fatalf("got %+v want %+v", got, m)
	}
}

// TestVarintRoundTrip covers property 7 directly against the gogo/protobuf
// primitives this package builds on.
func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 20, 1 << 40}
	for _, v := range values {
		encoded := proto.EncodeVarint(v)
		decoded, n := proto.DecodeVarint(encoded)
		if n != len(encoded) || decoded != v {
			t.Fatalf("varint round trip failed for %d: decoded=%d n=%d", v, decoded, n)
		}
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	m := CastMessage{SourceID: "sender-0", DestinationID: "receiver-0", Namespace: "ns", PayloadUTF8: "{}"}
	body := MarshalMessage(m)

	// Append an unknown field (field number 7, length-delimited) before
	// decoding, to confirm unknown-field tolerance.
	body = append(body, proto.EncodeVarint(tag(7, wireBytes))...)
	body = append(body, proto.EncodeVarint(3)...)
	body = append(body, "xyz"...)

	got, err := UnmarshalMessage(body)
	if err != nil {
		t.Fatalf("unmarshal with trailing unknown field: %v", err)
	}
	if got.SourceID != m.SourceID || got.PayloadUTF8 != m.PayloadUTF8 {
		t.Fatalf("known fields corrupted by unknown field: %+v", got)
	}
}
