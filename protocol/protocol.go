package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	Magic      uint32 = 0xCAFEBABE
	HeaderSize        = 12

	// DefaultMaxPacketSize bounds the body length accepted from a peer.
	DefaultMaxPacketSize = 10 * 1024 * 1024
)

var ErrUnknownType = errors.New("unknown packet type")

// FormatError reports a malformed frame or a field that would read past the
// end of the body. A connection that produced one must be dropped.
type FormatError struct {
	Op     string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return "protocol: " + e.Op + ": " + e.Reason + ": " + e.Err.Error()
	}
	return "protocol: " + e.Op + ": " + e.Reason
}

func (e *FormatError) Unwrap() error { return e.Err }

func formatErr(op, format string, args ...interface{}) error {
	return &FormatError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// IsFormatError reports whether err (or anything it wraps) is a FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// Packet is a typed, length-delimited frame. Writes append to the body;
// reads consume it through an internal cursor.
type Packet struct {
	Type Type
	body []byte
	off  int
}

func NewPacket(t Type) *Packet {
	return &Packet{Type: t}
}

func (p *Packet) WriteUint32(v uint32) *Packet {
	p.body = binary.BigEndian.AppendUint32(p.body, v)
	return p
}

func (p *Packet) WriteString(s string) *Packet {
	p.WriteUint32(uint32(len(s)))
	p.body = append(p.body, s...)
	return p
}

func (p *Packet) WriteBytes(b []byte) *Packet {
	p.WriteUint32(uint32(len(b)))
	p.body = append(p.body, b...)
	return p
}

func (p *Packet) WriteBool(v bool) *Packet {
	if v {
		return p.WriteUint32(1)
	}
	return p.WriteUint32(0)
}

// Len returns the body length.
func (p *Packet) Len() int { return len(p.body) }

// Remaining returns the number of unread body bytes.
func (p *Packet) Remaining() int { return len(p.body) - p.off }

func (p *Packet) ReadUint32() (uint32, error) {
	if p.Remaining() < 4 {
		return 0, formatErr("read uint32", "need 4 bytes, have %d", p.Remaining())
	}
	v := binary.BigEndian.Uint32(p.body[p.off:])
	p.off += 4
	return v, nil
}

func (p *Packet) ReadString() (string, error) {
	b, err := p.readLengthPrefixed("read string")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBytes returns a copy of the next length-prefixed buffer.
func (p *Packet) ReadBytes() ([]byte, error) {
	b, err := p.readLengthPrefixed("read bytes")
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (p *Packet) ReadBool() (bool, error) {
	v, err := p.ReadUint32()
	return v != 0, err
}

func (p *Packet) readLengthPrefixed(op string) ([]byte, error) {
	n, err := p.ReadUint32()
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(p.Remaining()) {
		return nil, formatErr(op, "declared length %d exceeds remaining %d", n, p.Remaining())
	}
	b := p.body[p.off : p.off+int(n)]
	p.off += int(n)
	return b, nil
}

// Bytes serializes the packet, header included.
func (p *Packet) Bytes() []byte {
	buf := make([]byte, HeaderSize, HeaderSize+len(p.body))
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	binary.BigEndian.PutUint32(buf[4:8], uint32(p.Type))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(p.body)))
	return append(buf, p.body...)
}

type header struct {
	typ    Type
	length uint32
}

func parseHeader(b []byte, maxSize int) (header, error) {
	if len(b) < HeaderSize {
		return header{}, formatErr("decode", "frame of %d bytes is shorter than header", len(b))
	}
	if m := binary.BigEndian.Uint32(b[0:4]); m != Magic {
		return header{}, formatErr("decode", "bad magic %#x", m)
	}
	h := header{
		typ:    Type(binary.BigEndian.Uint32(b[4:8])),
		length: binary.BigEndian.Uint32(b[8:12]),
	}
	if !h.typ.Valid() {
		return header{}, &FormatError{Op: "decode", Reason: fmt.Sprintf("tag %d", uint32(h.typ)), Err: ErrUnknownType}
	}
	if maxSize > 0 && uint64(h.length) > uint64(maxSize) {
		return header{}, formatErr("decode", "body of %d bytes exceeds limit %d", h.length, maxSize)
	}
	return h, nil
}

// Decode parses one complete frame. The declared body length must match the
// bytes present exactly.
func Decode(b []byte) (*Packet, error) {
	return DecodeLimit(b, DefaultMaxPacketSize)
}

func DecodeLimit(b []byte, maxSize int) (*Packet, error) {
	h, err := parseHeader(b, maxSize)
	if err != nil {
		return nil, err
	}
	if got := len(b) - HeaderSize; uint64(got) != uint64(h.length) {
		return nil, formatErr("decode", "declared body %d bytes, got %d", h.length, got)
	}
	body := make([]byte, h.length)
	copy(body, b[HeaderSize:])
	return &Packet{Type: h.typ, body: body}, nil
}

// ReadPacket reads exactly one frame from r. Short reads surface as the
// underlying io error; malformed headers as *FormatError.
func ReadPacket(r io.Reader, maxSize int) (*Packet, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	h, err := parseHeader(hdr[:], maxSize)
	if err != nil {
		return nil, err
	}
	body := make([]byte, h.length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return &Packet{Type: h.typ, body: body}, nil
}
