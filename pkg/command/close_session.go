package command

import "github.com/backkem/yubihsm/pkg/message"

// CloseSession ends the current session on the device. It is only valid
// inside a session message.
type CloseSession struct{}

// CommandType implements Command.
func (CloseSession) CommandType() message.CommandType { return message.CommandCloseSession }

// MarshalBinary returns an empty payload.
func (CloseSession) MarshalBinary() ([]byte, error) { return nil, nil }

// UnmarshalBinary accepts only an empty payload.
func (*CloseSession) UnmarshalBinary(b []byte) error {
	if len(b) != 0 {
		return ErrInvalidLength
	}
	return nil
}

// CloseSessionResponse is empty.
type CloseSessionResponse = CloseSession
