// Package wire accepts lobby client connections and exchanges length-prefixed
// protocol frames over them.
package wire

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/cory-johannsen/lobby/internal/protocol"
)

// Conn wraps a TCP connection with lobby frame reading and writing.
// Writes are serialized; reads must come from a single goroutine.
type Conn struct {
	id     string
	raw    net.Conn
	reader *bufio.Reader
	mu     sync.Mutex

	maxFrameSize uint32
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewConn wraps a raw TCP connection.
//
// Precondition: raw must be a valid, open network connection; maxFrameSize > 0.
// Postcondition: Returns a Conn ready for reading and writing frames.
func NewConn(id string, raw net.Conn, maxFrameSize uint32, readTimeout, writeTimeout time.Duration) *Conn {
	return &Conn{
		id:           id,
		raw:          raw,
		reader:       bufio.NewReaderSize(raw, 4096),
		maxFrameSize: maxFrameSize,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// ID returns the identifier assigned to this connection when it was accepted.
func (c *Conn) ID() string {
	return c.id
}

// ReadFrame blocks until one full frame arrives and returns its payload.
//
// Postcondition: Returns the payload, io.EOF on a clean close, or an error
// wrapping protocol.ErrFraming after which the connection must be dropped.
func (c *Conn) ReadFrame() ([]byte, error) {
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	return protocol.ReadFrame(c.reader, c.maxFrameSize)
}

// WriteFrame sends payload as one length-prefixed frame.
//
// Postcondition: The frame is written to the connection, or an error is returned.
func (c *Conn) WriteFrame(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return protocol.WriteFrame(c.raw, payload)
}

// Close closes the underlying TCP connection.
//
// Postcondition: The connection is closed; a blocked ReadFrame returns an error.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// RemoteAddr returns the remote network address of the client.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}
