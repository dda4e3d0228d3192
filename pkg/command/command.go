// Package command implements the payloads of the YubiHSM2 commands this
// module issues.
//
// Each request type knows its command tag and serializes to the plaintext
// data of a command message; each response type decodes the data of the
// matching response. Requests also decode and responses also encode, so the
// same types serve the in-process device simulator.
package command

import (
	"encoding"

	"github.com/backkem/yubihsm/pkg/message"
)

// Command is a request payload.
type Command interface {
	// CommandType returns the tag of this command.
	CommandType() message.CommandType

	encoding.BinaryMarshaler
}

// Message builds a plaintext command message with a fresh correlation ID.
func Message(cmd Command) (*message.CommandMessage, error) {
	data, err := cmd.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return message.NewCommand(cmd.CommandType(), data), nil
}

// Decode checks that rsp answers a command of type t and decodes its data
// into out.
func Decode(rsp *message.ResponseMessage, t message.CommandType, out encoding.BinaryUnmarshaler) error {
	if rsp.IsErr() {
		return rsp.Code
	}
	if got, ok := rsp.Command(); !ok || got != t {
		return ErrUnexpectedResponse
	}
	return out.UnmarshalBinary(rsp.Data)
}
