package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestEncodeHeader(t *testing.T) {
	b := NewNotice(TypeError, "boom").Bytes()

	if got := binary.BigEndian.Uint32(b[0:4]); got != Magic {
		t.Fatalf("expected magic %#x, got %#x", Magic, got)
	}
	if got := Type(binary.BigEndian.Uint32(b[4:8])); got != TypeError {
		t.Fatalf("expected type %s, got %s", TypeError, got)
	}
	if got := binary.BigEndian.Uint32(b[8:12]); got != 4+4 {
		t.Fatalf("expected body length 8, got %d", got)
	}
}

func TestDecodeVoiceMessage(t *testing.T) {
	in := VoiceMessage{Peer: "bob", Duration: 7, Data: []byte{1, 2, 3, 0, 255}}

	p, err := Decode(in.Packet().Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out, err := DecodeVoiceMessage(p)
	if err != nil {
		t.Fatalf("decode voice: %v", err)
	}
	if out.Peer != "bob" || out.Duration != 7 || !bytes.Equal(out.Data, in.Data) {
		t.Fatalf("unexpected voice message %+v", out)
	}
	if p.Remaining() != 0 {
		t.Fatalf("expected body fully consumed, %d bytes left", p.Remaining())
	}
}

func TestDecodeContactList(t *testing.T) {
	in := ContactList{Entries: []ContactEntry{{"alice", 0}, {"carol", 2}}}

	p, err := Decode(in.Packet().Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out, err := DecodeContactList(p)
	if err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(out.Entries) != 2 || out.Entries[1].Username != "carol" || out.Entries[1].Status != 2 {
		t.Fatalf("unexpected list %+v", out)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	b := NewPacket(TypeNudge).WriteString("x").Bytes()
	binary.BigEndian.PutUint32(b[4:8], 12345)

	_, err := Decode(b)
	if !IsFormatError(err) {
		t.Fatalf("expected FormatError, got %v", err)
	}
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	b := NewNudge("x").Bytes()
	b[0] = 0

	if _, err := Decode(b); !IsFormatError(err) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	b := NewNudge("x").Bytes()

	if _, err := Decode(b[:len(b)-1]); !IsFormatError(err) {
		t.Fatalf("expected FormatError for truncated body, got %v", err)
	}
	if _, err := Decode(append(b, 0)); !IsFormatError(err) {
		t.Fatalf("expected FormatError for trailing byte, got %v", err)
	}
}

func TestFieldPastEndIsFormatError(t *testing.T) {
	// string declares 100 bytes but only 2 follow
	p := NewPacket(TypeDirectMessage).WriteUint32(100)
	p.body = append(p.body, 'h', 'i')

	decoded, err := Decode(p.Bytes())
	if err != nil {
		t.Fatalf("frame itself is well formed: %v", err)
	}
	if _, err := DecodeDirectMessage(decoded); !IsFormatError(err) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestDecodeContactListRejectsHugeCount(t *testing.T) {
	p := NewPacket(TypeContactList).WriteUint32(1 << 30)

	decoded, err := Decode(p.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := DecodeContactList(decoded); !IsFormatError(err) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestReadPacketStream(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(DirectMessage{Peer: "bob", Body: "one"}.Packet().Bytes())
	buf.Write(TypingIndicator{Peer: "bob", Typing: true}.Packet().Bytes())

	p, err := ReadPacket(&buf, DefaultMaxPacketSize)
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	m, err := DecodeDirectMessage(p)
	if err != nil || m.Body != "one" {
		t.Fatalf("unexpected first packet %+v, %v", m, err)
	}

	p, err = ReadPacket(&buf, DefaultMaxPacketSize)
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	ti, err := DecodeTypingIndicator(p)
	if err != nil || !ti.Typing {
		t.Fatalf("unexpected second packet %+v, %v", ti, err)
	}

	if _, err := ReadPacket(&buf, DefaultMaxPacketSize); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReadPacketEnforcesLimit(t *testing.T) {
	b := NewAvatarUpdate(make([]byte, 64)).Bytes()

	if _, err := ReadPacket(bytes.NewReader(b), 16); !IsFormatError(err) {
		t.Fatalf("expected FormatError over limit, got %v", err)
	}
}

func TestReadPacketTruncatedBody(t *testing.T) {
	b := NewNudge("alice").Bytes()

	_, err := ReadPacket(bytes.NewReader(b[:len(b)-2]), DefaultMaxPacketSize)
	if err != io.ErrUnexpectedEOF {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestDecodePayloadWrongType(t *testing.T) {
	if _, err := DecodeNudge(NewNotice(TypeError, "x")); !IsFormatError(err) {
		t.Fatalf("expected FormatError for mismatched payload type, got %v", err)
	}
}
