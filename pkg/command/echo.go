package command

import (
	"github.com/backkem/yubihsm/pkg/message"
)

// Echo asks the device to return Data unchanged.
type Echo struct {
	Data []byte
}

// CommandType implements Command.
func (Echo) CommandType() message.CommandType { return message.CommandEcho }

// MarshalBinary returns the data to echo.
func (e Echo) MarshalBinary() ([]byte, error) {
	if len(e.Data) > message.MaxDataSize {
		return nil, ErrInvalidLength
	}
	return append([]byte(nil), e.Data...), nil
}

// UnmarshalBinary copies the payload.
func (e *Echo) UnmarshalBinary(b []byte) error {
	e.Data = append([]byte(nil), b...)
	return nil
}

// EchoResponse carries the echoed bytes.
type EchoResponse = Echo
