package message

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// ResponseMessage is a reply from the device.
type ResponseMessage struct {
	// UUID is copied from the command this response answers.
	UUID uuid.UUID

	// Type is the raw tag: the command tag with ResponseFlag set, or
	// CommandError.
	Type CommandType

	// Code is the device status. It is ErrorCodeOK unless Type is CommandError.
	Code ErrorCode

	// SessionID is present on session message responses.
	SessionID *SessionID

	// Data is the response payload (ciphertext for session messages).
	Data []byte

	// MAC is the 8-byte R-MAC trailer on session message responses.
	MAC []byte
}

// NewResponse creates a successful response to a command of type t.
func NewResponse(t CommandType, data []byte) *ResponseMessage {
	return &ResponseMessage{
		Type: t.Response(),
		Data: data,
	}
}

// NewErrorResponse creates a device error response.
func NewErrorResponse(code ErrorCode) *ResponseMessage {
	return &ResponseMessage{
		Type: CommandError,
		Code: code,
	}
}

// IsErr returns true if the device reported an error status.
func (r *ResponseMessage) IsErr() bool {
	return r.Type == CommandError
}

// Command returns the command tag this response echoes. It returns false
// for error responses, which echo nothing.
func (r *ResponseMessage) Command() (CommandType, bool) {
	if r.IsErr() || !r.Type.IsResponse() {
		return 0, false
	}
	return r.Type &^ ResponseFlag, true
}

// Encode serializes the response envelope.
func (r *ResponseMessage) Encode() ([]byte, error) {
	if r.IsErr() {
		return []byte{byte(CommandError), 0x00, 0x01, byte(r.Code)}, nil
	}
	if r.MAC != nil && len(r.MAC) != MACSize {
		return nil, ErrInvalidMAC
	}
	if hasSessionEnvelope(r.Type, true) && r.SessionID == nil {
		return nil, ErrMissingSession
	}

	n := len(r.Data) + len(r.MAC)
	if r.SessionID != nil {
		n += SessionIDSize
	}
	if HeaderSize+n > MaxMessageSize {
		return nil, ErrMessageTooLong
	}

	buf := make([]byte, HeaderSize, HeaderSize+n)
	buf[0] = byte(r.Type)
	binary.BigEndian.PutUint16(buf[1:3], uint16(n))
	if r.SessionID != nil {
		buf = append(buf, byte(*r.SessionID))
	}
	buf = append(buf, r.Data...)
	buf = append(buf, r.MAC...)
	return buf, nil
}

// ParseResponse decodes a response envelope.
//
// It fails with ErrMessageTooShort if b is shorter than the header (or than
// the session envelope for session messages) and with ErrLengthMismatch if
// the declared length differs from the actual body length or an error
// response carries more than its code. An error response is decoded into
// Code without touching any session state.
//
// The returned message does not alias b.
func ParseResponse(b []byte) (*ResponseMessage, error) {
	t, body, err := parseEnvelope(b)
	if err != nil {
		return nil, err
	}

	if t == CommandError {
		switch {
		case len(body) == 0:
			return nil, ErrMessageTooShort
		case len(body) > 1:
			return nil, ErrLengthMismatch
		}
		return &ResponseMessage{Type: t, Code: ErrorCode(body[0])}, nil
	}
	if !t.IsResponse() {
		return nil, ErrNotResponse
	}

	rsp := &ResponseMessage{Type: t}
	if !hasSessionEnvelope(t, true) {
		rsp.Data = body
		return rsp, nil
	}

	id, data, mac, err := splitSession(body)
	if err != nil {
		return nil, err
	}
	rsp.SessionID = &id
	rsp.Data = data
	rsp.MAC = mac
	return rsp, nil
}
