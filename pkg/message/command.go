package message

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// CommandMessage is a request to the device.
//
// Data is the payload at the framing boundary. For a session message it is
// ciphertext produced by the secure channel; for create-session it is
// plaintext. SessionID and MAC are set only for session envelopes.
type CommandMessage struct {
	// UUID correlates a command with its response in logs and adapters.
	UUID uuid.UUID

	// Type is the command tag.
	Type CommandType

	// SessionID is present once a channel exists.
	SessionID *SessionID

	// Data is the command payload.
	Data []byte

	// MAC is the 8-byte C-MAC trailer, or nil.
	MAC []byte
}

// NewCommand creates a plain command with a fresh correlation ID.
func NewCommand(t CommandType, data []byte) *CommandMessage {
	return &CommandMessage{
		UUID: uuid.New(),
		Type: t,
		Data: data,
	}
}

// bodyLen returns the value of the length field.
func (c *CommandMessage) bodyLen() int {
	n := len(c.Data) + len(c.MAC)
	if c.SessionID != nil {
		n += SessionIDSize
	}
	return n
}

// Encode serializes the command envelope.
func (c *CommandMessage) Encode() ([]byte, error) {
	if c.MAC != nil && len(c.MAC) != MACSize {
		return nil, ErrInvalidMAC
	}
	if hasSessionEnvelope(c.Type, false) && c.SessionID == nil {
		return nil, ErrMissingSession
	}

	n := c.bodyLen()
	if HeaderSize+n > MaxMessageSize {
		return nil, ErrMessageTooLong
	}

	buf := make([]byte, HeaderSize, HeaderSize+n)
	buf[0] = byte(c.Type)
	binary.BigEndian.PutUint16(buf[1:3], uint16(n))
	if c.SessionID != nil {
		buf = append(buf, byte(*c.SessionID))
	}
	buf = append(buf, c.Data...)
	buf = append(buf, c.MAC...)
	return buf, nil
}

// ParseCommand decodes a command envelope. Authenticate-session commands and
// session messages are split into session ID, payload and MAC.
//
// The returned message does not alias b.
func ParseCommand(b []byte) (*CommandMessage, error) {
	t, body, err := parseEnvelope(b)
	if err != nil {
		return nil, err
	}

	cmd := &CommandMessage{Type: t}
	if !hasSessionEnvelope(t, false) {
		cmd.Data = body
		return cmd, nil
	}

	id, data, mac, err := splitSession(body)
	if err != nil {
		return nil, err
	}
	cmd.SessionID = &id
	cmd.Data = data
	cmd.MAC = mac
	return cmd, nil
}

// parseEnvelope validates the outer header and returns a copy of the body.
func parseEnvelope(b []byte) (CommandType, []byte, error) {
	if len(b) < HeaderSize {
		return 0, nil, ErrMessageTooShort
	}
	if len(b) > MaxMessageSize {
		return 0, nil, ErrMessageTooLong
	}

	n := int(binary.BigEndian.Uint16(b[1:3]))
	if n != len(b)-HeaderSize {
		return 0, nil, ErrLengthMismatch
	}

	body := make([]byte, n)
	copy(body, b[HeaderSize:])
	return CommandType(b[0]), body, nil
}

// splitSession splits a session envelope body.
func splitSession(body []byte) (SessionID, []byte, []byte, error) {
	if len(body) < SessionIDSize+MACSize {
		return 0, nil, nil, ErrMessageTooShort
	}
	id, err := NewSessionID(body[0])
	if err != nil {
		return 0, nil, nil, err
	}
	data := body[SessionIDSize : len(body)-MACSize]
	mac := body[len(body)-MACSize:]
	return id, data, mac, nil
}
