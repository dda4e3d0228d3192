package command

import "errors"

var (
	// ErrInvalidLength indicates a payload of the wrong size.
	ErrInvalidLength = errors.New("command: invalid payload length")

	// ErrUnexpectedResponse indicates a response to a different command.
	ErrUnexpectedResponse = errors.New("command: unexpected response type")

	// ErrInvalidFilter indicates an unknown list-objects filter tag.
	ErrInvalidFilter = errors.New("command: invalid list filter")
)
