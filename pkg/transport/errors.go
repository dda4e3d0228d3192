package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed adapter
	// or pipe.
	ErrClosed = errors.New("transport: closed")

	// ErrInvalidAddress is returned when the connector URL cannot be used.
	ErrInvalidAddress = errors.New("transport: invalid address")

	// ErrSendFailed is returned when the connector rejects a message.
	ErrSendFailed = errors.New("transport: send failed")

	// ErrMessageTooLarge is returned when a message exceeds the maximum size.
	ErrMessageTooLarge = errors.New("transport: message too large")

	// ErrUnhealthy is returned by Open when the connector does not report
	// a usable device.
	ErrUnhealthy = errors.New("transport: connector not healthy")
)
