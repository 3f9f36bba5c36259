// Package protocol implements the lobby's binary wire format: length-prefixed
// frames carrying a command byte and null-terminated UTF-8 string fields.
// All integers are big-endian.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// LengthPrefixSize is the size of the frame length prefix in bytes.
const LengthPrefixSize = 4

// DefaultMaxFrameSize bounds inbound payloads when no limit is configured.
const DefaultMaxFrameSize = 64 * 1024

var (
	// ErrFraming marks a malformed frame: a short read or an oversized length.
	// The byte stream cannot be resynchronized after it.
	ErrFraming = errors.New("framing error")
	// ErrEncoding marks a malformed field inside a frame payload.
	ErrEncoding = errors.New("encoding error")
)

// ReadFrame reads one length-prefixed frame from r and returns its payload.
//
// Precondition: maxSize > 0.
// Postcondition: Returns io.EOF if r ended cleanly before a frame started,
// an error wrapping ErrFraming if the frame was truncated or its length
// exceeds maxSize, or the transport error otherwise.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var header [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated length prefix", ErrFraming)
		}
		return nil, err
	}

	n := binary.BigEndian.Uint32(header[:])
	if n > maxSize {
		return nil, fmt.Errorf("%w: frame length %d exceeds maximum %d", ErrFraming, n, maxSize)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: stream closed inside %d-byte frame", ErrFraming, n)
		}
		return nil, err
	}
	return payload, nil
}

// EncodeFrame returns payload prefixed with its 4-byte length.
func EncodeFrame(payload []byte) []byte {
	out := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[LengthPrefixSize:], payload)
	return out
}

// WriteFrame writes payload to w as a single length-prefixed frame.
//
// Postcondition: The full frame is written in one Write call, or an error is returned.
func WriteFrame(w io.Writer, payload []byte) error {
	_, err := w.Write(EncodeFrame(payload))
	return err
}
