package wire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/config"
)

// SessionHandler runs the command loop for one connected client.
type SessionHandler interface {
	HandleSession(ctx context.Context, conn *Conn) error
}

// Acceptor listens for lobby connections on a TCP port and runs each one
// on its own goroutine through a SessionHandler.
type Acceptor struct {
	cfg     config.LobbyConfig
	handler SessionHandler
	logger  *zap.Logger

	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
	stopped  bool
	conns    map[*Conn]struct{}
}

// NewAcceptor creates a lobby acceptor with the given configuration.
//
// Precondition: handler and logger must be non-nil; cfg.MaxFrameSize > 0.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(cfg config.LobbyConfig, handler SessionHandler, logger *zap.Logger) *Acceptor {
	return &Acceptor{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		quit:    make(chan struct{}),
		conns:   make(map[*Conn]struct{}),
	}
}

// ListenAndServe starts the TCP listener and accepts connections until Stop is called.
// This method blocks until the acceptor is stopped.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	a.listener = listener
	a.running = true
	a.mu.Unlock()

	a.logger.Info("lobby acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.Uint32("max_frame_size", a.cfg.MaxFrameSize),
		zap.Duration("startup", time.Since(start)),
	)

	return a.serve(listener)
}

// Accept retry delays after a failed Accept, as in net/http.Server.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

func nextAcceptDelay(delay time.Duration) time.Duration {
	if delay == 0 {
		return minAcceptDelay
	}
	delay *= 2
	if delay > maxAcceptDelay {
		return maxAcceptDelay
	}
	return delay
}

// serve accepts connections from listener until Stop is called. Accept errors
// such as descriptor exhaustion are retried with a growing delay.
func (a *Acceptor) serve(listener net.Listener) error {
	var delay time.Duration
	for {
		raw, err := listener.Accept()
		if err != nil {
			select {
			case <-a.quit:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accepting connection: %w", err)
			}

			delay = nextAcceptDelay(delay)
			a.logger.Error("accepting connection",
				zap.Error(err),
				zap.Duration("retry_in", delay),
			)
			timer := time.NewTimer(delay)
			select {
			case <-a.quit:
				timer.Stop()
				return nil
			case <-timer.C:
			}
			continue
		}
		delay = 0

		conn := NewConn(uuid.New().String(), raw, a.cfg.MaxFrameSize, a.cfg.ReadTimeout, a.cfg.WriteTimeout)
		if !a.track(conn) {
			_ = conn.Close()
			return nil
		}
		go a.handleConn(conn)
	}
}

// track registers conn so Stop can close it. It reports false once stopping.
func (a *Acceptor) track(conn *Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return false
	}
	a.conns[conn] = struct{}{}
	a.wg.Add(1)
	return true
}

func (a *Acceptor) untrack(conn *Conn) {
	a.mu.Lock()
	delete(a.conns, conn)
	a.mu.Unlock()
	a.wg.Done()
}

// handleConn runs one session. A panic in the handler ends only this connection.
func (a *Acceptor) handleConn(conn *Conn) {
	defer a.untrack(conn)
	defer conn.Close()

	start := time.Now()
	logger := a.logger.With(
		zap.String("conn_id", conn.ID()),
		zap.String("remote_addr", conn.RemoteAddr().String()),
	)
	logger.Info("client connected")

	defer func() {
		if r := recover(); r != nil {
			logger.Error("session panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
				zap.Duration("duration", time.Since(start)),
			)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel context when quit signal received
	go func() {
		select {
		case <-a.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := a.handler.HandleSession(ctx, conn); err != nil {
		logger.Info("session ended",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
	} else {
		logger.Info("session ended cleanly",
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// Stop closes the listener and every live connection, then waits for all
// sessions to finish their cleanup.
//
// Postcondition: All connections are closed and goroutines have exited.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.running = false
	close(a.quit)
	if a.listener != nil {
		_ = a.listener.Close()
	}
	for conn := range a.conns {
		_ = conn.Close()
	}
	a.mu.Unlock()

	a.wg.Wait()
	a.logger.Info("lobby acceptor stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// ActiveConnections returns the number of connections currently being served.
func (a *Acceptor) ActiveConnections() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns)
}
