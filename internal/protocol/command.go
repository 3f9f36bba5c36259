package protocol

import (
	"fmt"
)

// Inbound command bytes.
const (
	CmdHello          byte = 0x02
	CmdScreenChange   byte = 0x0a
	CmdOnlineEnvelope byte = 0x0c
)

// OnlineEnvelope sub-command bytes. SubRoomList is reply-only.
const (
	SubLogin      byte = 0x00
	SubRoomList   byte = 0x01
	SubCreateRoom byte = 0x02
	SubJoinRoom   byte = 0x03
)

// Screen identifiers carried by ScreenChange.
const (
	ScreenRoomList byte = 0x07
)

// Command is a decoded inbound frame. The set of implementations is closed;
// unrecognized bytes decode to UnknownCommand or UnknownOnlineCommand.
type Command interface {
	// Kind is a stable identifier used in logs and metrics.
	Kind() string
	command()
}

// Hello is the client handshake.
type Hello struct {
	Version byte
	Product string
}

// ScreenChange reports that the client switched screens.
type ScreenChange struct {
	Screen byte
}

// Login requests binding Username to the connection.
type Login struct {
	Username     string
	PasswordHash string
}

// CreateRoom requests a new room. Password is nil when the room is open.
type CreateRoom struct {
	Name        string
	Description string
	Password    *string
}

// JoinRoom requests membership of an existing room.
type JoinRoom struct {
	Name     string
	Password string
}

// UnknownCommand carries an unrecognized top-level command byte.
type UnknownCommand struct {
	Code byte
}

// UnknownOnlineCommand carries an unrecognized OnlineEnvelope sub-command.
type UnknownOnlineCommand struct {
	Sub    byte
	SubSub byte
}

// EmptyFrame is a frame with no command byte.
type EmptyFrame struct{}

func (Hello) Kind() string                { return "hello" }
func (ScreenChange) Kind() string         { return "screen_change" }
func (Login) Kind() string                { return "login" }
func (CreateRoom) Kind() string           { return "create_room" }
func (JoinRoom) Kind() string             { return "join_room" }
func (UnknownCommand) Kind() string       { return "unknown" }
func (UnknownOnlineCommand) Kind() string { return "unknown_online" }
func (EmptyFrame) Kind() string           { return "empty" }

func (Hello) command()                {}
func (ScreenChange) command()         {}
func (Login) command()                {}
func (CreateRoom) command()           {}
func (JoinRoom) command()             {}
func (UnknownCommand) command()       {}
func (UnknownOnlineCommand) command() {}
func (EmptyFrame) command()           {}

// Decode parses a frame payload into a Command.
//
// Postcondition: Unknown command or sub-command bytes yield UnknownCommand or
// UnknownOnlineCommand with a nil error. A known command with a malformed body
// yields an error wrapping ErrEncoding.
func Decode(payload []byte) (Command, error) {
	if len(payload) == 0 {
		return EmptyFrame{}, nil
	}
	r := NewReader(payload[1:])

	switch payload[0] {
	case CmdHello:
		return decodeHello(r)
	case CmdScreenChange:
		screen, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("decoding screen change: %w", err)
		}
		return ScreenChange{Screen: screen}, nil
	case CmdOnlineEnvelope:
		return decodeOnline(r)
	default:
		return UnknownCommand{Code: payload[0]}, nil
	}
}

func decodeHello(r *Reader) (Command, error) {
	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("decoding hello version: %w", err)
	}
	product, err := r.ReadNT()
	if err != nil {
		return nil, fmt.Errorf("decoding hello product: %w", err)
	}
	return Hello{Version: version, Product: product}, nil
}

func decodeOnline(r *Reader) (Command, error) {
	sub, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("decoding online sub-command: %w", err)
	}
	subSub, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("decoding online sub-sub-command: %w", err)
	}

	switch sub {
	case SubLogin:
		return decodeLogin(r)
	case SubCreateRoom:
		return decodeCreateRoom(r)
	case SubJoinRoom:
		return decodeJoinRoom(r)
	default:
		return UnknownOnlineCommand{Sub: sub, SubSub: subSub}, nil
	}
}

func decodeLogin(r *Reader) (Command, error) {
	if _, err := r.ReadByte(); err != nil {
		return nil, fmt.Errorf("decoding login reserved byte: %w", err)
	}
	username, err := r.ReadNT()
	if err != nil {
		return nil, fmt.Errorf("decoding login username: %w", err)
	}
	hash, err := r.ReadNT()
	if err != nil {
		return nil, fmt.Errorf("decoding login password: %w", err)
	}
	return Login{Username: username, PasswordHash: hash}, nil
}

func decodeCreateRoom(r *Reader) (Command, error) {
	name, err := r.ReadNT()
	if err != nil {
		return nil, fmt.Errorf("decoding room name: %w", err)
	}
	desc, err := r.ReadNT()
	if err != nil {
		return nil, fmt.Errorf("decoding room description: %w", err)
	}
	cmd := CreateRoom{Name: name, Description: desc}
	if r.Remaining() > 0 {
		pw, err := r.ReadNT()
		if err != nil {
			return nil, fmt.Errorf("decoding room password: %w", err)
		}
		cmd.Password = &pw
	}
	return cmd, nil
}

func decodeJoinRoom(r *Reader) (Command, error) {
	name, err := r.ReadNT()
	if err != nil {
		return nil, fmt.Errorf("decoding room name: %w", err)
	}
	cmd := JoinRoom{Name: name}
	if r.Remaining() > 0 {
		if cmd.Password, err = r.ReadNT(); err != nil {
			return nil, fmt.Errorf("decoding room password: %w", err)
		}
	}
	return cmd, nil
}

// Encoders for inbound commands. Clients and tests use them to produce frames.

// EncodeHello builds a Hello payload.
func EncodeHello(version byte, product string) ([]byte, error) {
	b := NewBuilder(CmdHello, version)
	b.WriteNT(product)
	return b.Payload()
}

// EncodeScreenChange builds a ScreenChange payload.
func EncodeScreenChange(screen byte) []byte {
	return []byte{CmdScreenChange, screen}
}

// EncodeLogin builds a Login payload.
func EncodeLogin(username, passwordHash string) ([]byte, error) {
	b := NewBuilder(CmdOnlineEnvelope, SubLogin, 0x00, 0x00)
	b.WriteNT(username)
	b.WriteNT(passwordHash)
	return b.Payload()
}

// EncodeCreateRoom builds a CreateRoom payload. A nil password omits the field.
func EncodeCreateRoom(name, description string, password *string) ([]byte, error) {
	b := NewBuilder(CmdOnlineEnvelope, SubCreateRoom, 0x00)
	b.WriteNT(name)
	b.WriteNT(description)
	if password != nil {
		b.WriteNT(*password)
	}
	return b.Payload()
}

// EncodeJoinRoom builds a JoinRoom payload. An empty password omits the field.
func EncodeJoinRoom(name, password string) ([]byte, error) {
	b := NewBuilder(CmdOnlineEnvelope, SubJoinRoom, 0x00)
	b.WriteNT(name)
	if password != "" {
		b.WriteNT(password)
	}
	return b.Payload()
}
