package protocol

import (
	"fmt"
	"math"
)

// Outbound reply codes.
const (
	ReplyHelloAck          byte = 0x82
	ReplyChatMessage       byte = 0x87
	ReplyOnlineEnvelopeAck byte = 0x8c
)

const (
	// HelloCapabilities is the capability byte sent in every HelloAck.
	HelloCapabilities byte = 0x80

	// RoomStatusOpen is the per-room status byte in a room list.
	RoomStatusOpen byte = 0x00

	statusFailure byte = 0x00
	statusSuccess byte = 0x01
)

// SubRoomEnter is the OnlineEnvelopeAck sub-command for the room-enter screen transition.
const SubRoomEnter = SubCreateRoom

// RoomListing is one row of a room list reply.
type RoomListing struct {
	Name        string
	Description string
	Protected   bool
}

// HelloAckReply builds the handshake reply carrying the server name.
func HelloAckReply(serverName string) ([]byte, error) {
	b := NewBuilder(ReplyHelloAck, HelloCapabilities)
	b.WriteNT(serverName)
	return b.Payload()
}

// ChatMessageReply builds a chat message frame.
func ChatMessageReply(text string) ([]byte, error) {
	b := NewBuilder(ReplyChatMessage)
	b.WriteNT(text)
	return b.Payload()
}

// LoginSuccessReply builds the login acceptance frame.
func LoginSuccessReply() []byte {
	return []byte{ReplyOnlineEnvelopeAck, SubLogin, statusSuccess}
}

// LoginFailureReply builds the login rejection frame carrying reason.
func LoginFailureReply(reason string) ([]byte, error) {
	b := NewBuilder(ReplyOnlineEnvelopeAck, SubLogin, statusFailure)
	b.WriteNT(reason)
	return b.Payload()
}

// RoomEnterReply builds the screen transition into a room.
func RoomEnterReply(name, description string) ([]byte, error) {
	b := NewBuilder(ReplyOnlineEnvelopeAck, SubRoomEnter, statusSuccess)
	b.WriteNT(name)
	b.WriteNT(description)
	return b.Payload()
}

// RoomListReply builds the room list frame. The name/description pairs, the
// status bytes and the password flags are written in three passes over the
// same slice, so index i of each section describes rooms[i].
//
// Precondition: len(rooms) <= math.MaxUint16.
func RoomListReply(rooms []RoomListing) ([]byte, error) {
	if len(rooms) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d rooms exceed list capacity", ErrEncoding, len(rooms))
	}

	b := NewBuilder(ReplyOnlineEnvelopeAck, SubRoomList, statusSuccess)
	b.WriteUint16(uint16(len(rooms)))
	for _, r := range rooms {
		b.WriteNT(r.Name)
		b.WriteNT(r.Description)
	}
	for range rooms {
		_ = b.WriteByte(RoomStatusOpen)
	}
	for _, r := range rooms {
		var flag byte
		if r.Protected {
			flag = 0x01
		}
		_ = b.WriteByte(flag)
	}
	return b.Payload()
}

// DecodeRoomList parses a room list frame produced by RoomListReply.
func DecodeRoomList(payload []byte) ([]RoomListing, error) {
	r := NewReader(payload)
	for _, want := range []byte{ReplyOnlineEnvelopeAck, SubRoomList, statusSuccess} {
		got, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if got != want {
			return nil, fmt.Errorf("%w: room list header byte 0x%02x, want 0x%02x", ErrEncoding, got, want)
		}
	}
	hi, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	lo, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	count := int(hi)<<8 | int(lo)

	rooms := make([]RoomListing, count)
	for i := range rooms {
		if rooms[i].Name, err = r.ReadNT(); err != nil {
			return nil, err
		}
		if rooms[i].Description, err = r.ReadNT(); err != nil {
			return nil, err
		}
	}
	for i := 0; i < count; i++ {
		if _, err := r.ReadByte(); err != nil {
			return nil, err
		}
	}
	for i := range rooms {
		flag, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		rooms[i].Protected = flag != 0
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after room list", ErrEncoding, r.Remaining())
	}
	return rooms, nil
}
