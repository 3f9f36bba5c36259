// Package testutil provides helpers for lobby integration tests.
package testutil

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/cory-johannsen/lobby/internal/protocol"
)

// LobbyClient is a minimal protocol client for integration testing.
type LobbyClient struct {
	conn net.Conn
	t    *testing.T
}

// NewLobbyClient dials the given address and returns a test client.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected LobbyClient or fails the test.
func NewLobbyClient(t *testing.T, addr string) *LobbyClient {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("lobby client connected to %s [%s]", addr, time.Since(start))
	return &LobbyClient{conn: conn, t: t}
}

// Send writes payload as one frame.
func (c *LobbyClient) Send(payload []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := protocol.WriteFrame(c.conn, payload); err != nil {
		c.t.Fatalf("sending frame % x: %v", payload, err)
	}
}

// Write writes payload as one frame, returning any error. Unlike Send it is
// safe to call from goroutines other than the test's.
func (c *LobbyClient) Write(payload []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return protocol.WriteFrame(c.conn, payload)
}

// SendRaw writes bytes without framing them.
func (c *LobbyClient) SendRaw(data []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write(data); err != nil {
		c.t.Fatalf("sending raw bytes: %v", err)
	}
}

// Expect reads the next frame or fails the test on timeout.
func (c *LobbyClient) Expect(timeout time.Duration) []byte {
	c.t.Helper()
	payload, err := c.Read(timeout)
	if err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}
	return payload
}

// Read reads the next frame, returning any error.
func (c *LobbyClient) Read(timeout time.Duration) ([]byte, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	return protocol.ReadFrame(c.conn, protocol.DefaultMaxFrameSize)
}

// ExpectClosed fails the test unless the server closes the connection within timeout.
func (c *LobbyClient) ExpectClosed(timeout time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 64)
	for {
		_, err := c.conn.Read(buf)
		if err == nil {
			continue
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			c.t.Fatalf("connection still open after %s", timeout)
		}
		return
	}
}

// ExpectSilence fails the test if a frame arrives within d.
func (c *LobbyClient) ExpectSilence(d time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(d))
	payload, err := protocol.ReadFrame(c.conn, protocol.DefaultMaxFrameSize)
	if err == nil {
		c.t.Fatalf("unexpected frame % x", payload)
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		c.t.Fatalf("expected timeout, got %v", err)
	}
}

// Close closes the underlying connection.
func (c *LobbyClient) Close() {
	c.conn.Close()
}
