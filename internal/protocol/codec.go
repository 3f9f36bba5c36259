package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// Reader decodes fields from a frame payload.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader positioned at the start of payload.
func NewReader(payload []byte) *Reader {
	return &Reader{buf: payload}
}

// ReadByte consumes one byte.
//
// Postcondition: Returns an error wrapping ErrEncoding if the payload is exhausted.
func (r *Reader) ReadByte() (byte, error) {
	if r.off >= len(r.buf) {
		return 0, fmt.Errorf("%w: unexpected end of payload at offset %d", ErrEncoding, r.off)
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

// ReadNT consumes a UTF-8 string terminated by a single 0x00 byte.
//
// Postcondition: Returns the string without its terminator, or an error
// wrapping ErrEncoding if no terminator remains or the bytes are not UTF-8.
func (r *Reader) ReadNT() (string, error) {
	rest := r.buf[r.off:]
	end := bytes.IndexByte(rest, 0x00)
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated string at offset %d", ErrEncoding, r.off)
	}
	raw := rest[:end]
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: invalid UTF-8 in string at offset %d", ErrEncoding, r.off)
	}
	r.off += end + 1
	return string(raw), nil
}

// Remaining reports how many bytes have not been consumed.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

// Builder accumulates an outbound frame payload.
// The first write error is sticky; later writes are no-ops.
type Builder struct {
	buf bytes.Buffer
	err error
}

// NewBuilder returns a Builder whose payload starts with the given bytes.
func NewBuilder(prefix ...byte) *Builder {
	b := &Builder{}
	b.buf.Write(prefix)
	return b
}

// WriteByte appends one byte. It always returns nil.
func (b *Builder) WriteByte(c byte) error {
	if b.err == nil {
		b.buf.WriteByte(c)
	}
	return nil
}

// WriteUint16 appends a big-endian uint16.
func (b *Builder) WriteUint16(v uint16) {
	if b.err != nil {
		return
	}
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.buf.Write(tmp[:])
}

// WriteNT appends s followed by a 0x00 terminator.
//
// Postcondition: If s contains 0x00 or is not valid UTF-8 the builder records
// an error wrapping ErrEncoding and s is not written.
func (b *Builder) WriteNT(s string) {
	if b.err != nil {
		return
	}
	if !utf8.ValidString(s) {
		b.err = fmt.Errorf("%w: string %q is not valid UTF-8", ErrEncoding, s)
		return
	}
	if bytes.IndexByte([]byte(s), 0x00) >= 0 {
		b.err = fmt.Errorf("%w: string %q contains a NUL byte", ErrEncoding, s)
		return
	}
	b.buf.WriteString(s)
	b.buf.WriteByte(0x00)
}

// Payload returns the accumulated bytes, or the first error recorded.
func (b *Builder) Payload() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.buf.Bytes(), nil
}
