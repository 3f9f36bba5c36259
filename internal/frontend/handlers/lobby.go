// Package handlers provides the lobby protocol session handler.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/config"
	"github.com/cory-johannsen/lobby/internal/frontend/wire"
	"github.com/cory-johannsen/lobby/internal/observability"
	"github.com/cory-johannsen/lobby/internal/protocol"
	"github.com/cory-johannsen/lobby/internal/registry"
)

// ErrNotAuthenticated is returned when a command that needs a logged-in user
// arrives on an anonymous connection. The protocol has no rejection frame for
// it, so the connection is dropped.
var ErrNotAuthenticated = errors.New("command requires a logged-in user")

// LobbyHandler implements wire.SessionHandler. It interprets protocol
// commands for one connection at a time against the shared registry.
type LobbyHandler struct {
	registry *registry.Registry
	server   config.ServerConfig
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewLobbyHandler creates a LobbyHandler backed by reg.
//
// Precondition: reg, metrics and logger must be non-nil; server.Name must be non-empty.
// Postcondition: Returns a LobbyHandler ready to handle sessions.
func NewLobbyHandler(reg *registry.Registry, server config.ServerConfig, metrics *observability.Metrics, logger *zap.Logger) *LobbyHandler {
	return &LobbyHandler{
		registry: reg,
		server:   server,
		metrics:  metrics,
		logger:   logger,
	}
}

// lobbySession is the per-connection dispatcher state.
type lobbySession struct {
	h      *LobbyHandler
	conn   *wire.Conn
	id     registry.ConnID
	logger *zap.Logger

	// user is empty until a login succeeds.
	user string
}

func (s *lobbySession) authenticated() bool {
	return s.user != ""
}

// HandleSession implements wire.SessionHandler. It reads frames until the
// peer closes the connection or an unrecoverable error occurs, then evicts
// the connection's session from the registry.
//
// Postcondition: Returns nil on clean close, or the error that ended the session.
func (h *LobbyHandler) HandleSession(ctx context.Context, conn *wire.Conn) error {
	s := &lobbySession{
		h:    h,
		conn: conn,
		id:   registry.ConnID(conn.ID()),
		logger: h.logger.With(
			zap.String("conn_id", conn.ID()),
			zap.String("remote_addr", conn.RemoteAddr().String()),
		),
	}

	h.metrics.ConnectionOpened()
	defer h.metrics.ConnectionClosed()
	defer s.cleanup()

	err := s.run(ctx)
	if err != nil {
		kind := errorKind(err)
		h.metrics.ConnectionError(kind)
		s.logger.Warn("client errored; connection dropped",
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
	return err
}

func (s *lobbySession) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload, err := s.conn.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("client closed connection")
				return nil
			}
			return fmt.Errorf("reading frame: %w", err)
		}

		cmd, err := protocol.Decode(payload)
		if err != nil {
			return fmt.Errorf("decoding frame: %w", err)
		}
		s.h.metrics.FrameReceived(cmd.Kind())

		if err := s.dispatch(cmd); err != nil {
			return fmt.Errorf("handling %s: %w", cmd.Kind(), err)
		}
	}
}

func (s *lobbySession) dispatch(cmd protocol.Command) error {
	switch c := cmd.(type) {
	case protocol.Hello:
		return s.handleHello(c)
	case protocol.ScreenChange:
		return s.handleScreenChange(c)
	case protocol.Login:
		return s.handleLogin(c)
	case protocol.CreateRoom:
		return s.handleCreateRoom(c)
	case protocol.JoinRoom:
		return s.handleJoinRoom(c)
	case protocol.UnknownCommand:
		s.logger.Warn("unknown command; frame discarded",
			zap.String("command", fmt.Sprintf("0x%02x", c.Code)),
		)
	case protocol.UnknownOnlineCommand:
		s.logger.Warn("unknown online sub-command; frame discarded",
			zap.String("sub", fmt.Sprintf("0x%02x", c.Sub)),
			zap.String("sub_sub", fmt.Sprintf("0x%02x", c.SubSub)),
		)
	case protocol.EmptyFrame:
		s.logger.Warn("empty frame discarded")
	default:
		s.logger.Warn("unhandled command type", zap.String("command", cmd.Kind()))
	}
	return nil
}

func (s *lobbySession) handleHello(c protocol.Hello) error {
	s.logger.Info("client hello",
		zap.Uint8("version", c.Version),
		zap.String("product", c.Product),
	)
	return s.send(protocol.HelloAckReply(s.h.server.Name))
}

func (s *lobbySession) handleScreenChange(c protocol.ScreenChange) error {
	if c.Screen == protocol.ScreenRoomList {
		return s.sendRoomList()
	}
	s.logger.Debug("screen change", zap.Uint8("screen", c.Screen))
	return nil
}

func (s *lobbySession) handleLogin(c protocol.Login) error {
	count, err := s.h.registry.Login(s.id, c.Username)
	if err != nil {
		if errors.Is(err, registry.ErrRegistryClosed) {
			return err
		}
		s.h.metrics.LoginAttempt(false)
		s.logger.Info("login rejected",
			zap.String("username", c.Username),
			zap.Error(err),
		)
		return s.send(protocol.LoginFailureReply(err.Error()))
	}

	s.user = c.Username
	s.h.metrics.LoginAttempt(true)
	s.logger.Info("user logged in",
		zap.String("username", c.Username),
		zap.Int("online", count),
	)

	if err := s.send(protocol.LoginSuccessReply(), nil); err != nil {
		return err
	}
	if err := s.send(protocol.ChatMessageReply(s.h.server.WelcomeMessage)); err != nil {
		return err
	}
	info := fmt.Sprintf("Server: %s, users online: %d", s.h.server.Name, count)
	if err := s.send(protocol.ChatMessageReply(info)); err != nil {
		return err
	}
	return s.sendRoomList()
}

func (s *lobbySession) handleCreateRoom(c protocol.CreateRoom) error {
	if !s.authenticated() {
		return ErrNotAuthenticated
	}

	room, err := s.h.registry.CreateRoom(s.id, c.Name, c.Description, c.Password)
	if err != nil {
		if isFatalRegistryError(err) {
			return err
		}
		s.logger.Info("room creation rejected",
			zap.String("room", c.Name),
			zap.Error(err),
		)
		return s.send(protocol.ChatMessageReply("Could not create room: " + err.Error()))
	}

	s.h.metrics.RoomCreated()
	s.logger.Info("room created",
		zap.String("room", room.Name),
		zap.String("creator", s.user),
		zap.Bool("protected", room.Protected),
	)

	if err := s.send(protocol.ChatMessageReply(fmt.Sprintf("Room %q created", room.Name))); err != nil {
		return err
	}
	return s.send(protocol.RoomEnterReply(room.Name, room.Description))
}

func (s *lobbySession) handleJoinRoom(c protocol.JoinRoom) error {
	if !s.authenticated() {
		return ErrNotAuthenticated
	}

	room, err := s.h.registry.JoinRoom(s.id, c.Name, c.Password)
	if err != nil {
		if isFatalRegistryError(err) {
			return err
		}
		s.h.metrics.RoomJoinAttempt(false)
		s.logger.Info("room join rejected",
			zap.String("room", c.Name),
			zap.Error(err),
		)
		return s.send(protocol.ChatMessageReply("Could not join room: " + err.Error()))
	}

	s.h.metrics.RoomJoinAttempt(true)
	s.logger.Info("room joined",
		zap.String("room", room.Name),
		zap.String("user", s.user),
		zap.Int("members", len(room.Members)),
	)
	return s.send(protocol.RoomEnterReply(room.Name, room.Description))
}

// sendRoomList encodes one registry snapshot; the lock is released before encoding.
func (s *lobbySession) sendRoomList() error {
	rooms, err := s.h.registry.SnapshotRooms()
	if err != nil {
		return err
	}
	listing := make([]protocol.RoomListing, len(rooms))
	for i, r := range rooms {
		listing[i] = protocol.RoomListing{
			Name:        r.Name,
			Description: r.Description,
			Protected:   r.Protected,
		}
	}
	return s.send(protocol.RoomListReply(listing))
}

// send writes one reply frame. An encoding error from the builder is returned as-is.
func (s *lobbySession) send(payload []byte, err error) error {
	if err != nil {
		return fmt.Errorf("encoding reply: %w", err)
	}
	if err := s.conn.WriteFrame(payload); err != nil {
		return fmt.Errorf("writing reply: %w", err)
	}
	return nil
}

// cleanup evicts the connection's session. It must run on every exit path.
func (s *lobbySession) cleanup() {
	if !s.authenticated() {
		return
	}
	user, ok, err := s.h.registry.Logout(s.id)
	if err != nil {
		s.logger.Warn("failed to access registry during cleanup; state might be inconsistent",
			zap.String("username", s.user),
			zap.Error(err),
		)
		return
	}
	if ok {
		s.h.metrics.ForcedLogout()
		s.logger.Info("client was logged in; logged out",
			zap.String("username", user),
		)
	}
	s.user = ""
}

// isFatalRegistryError reports errors that mean the registry or this
// connection's session can no longer be trusted.
func isFatalRegistryError(err error) bool {
	return errors.Is(err, registry.ErrRegistryClosed) || errors.Is(err, registry.ErrNotLoggedIn)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, protocol.ErrFraming):
		return "framing"
	case errors.Is(err, protocol.ErrEncoding):
		return "encoding"
	case errors.Is(err, ErrNotAuthenticated):
		return "invariant"
	case errors.Is(err, registry.ErrRegistryClosed), errors.Is(err, registry.ErrNotLoggedIn):
		return "registry"
	case errors.Is(err, context.Canceled):
		return "shutdown"
	default:
		return "transport"
	}
}
