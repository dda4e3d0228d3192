package message

import "errors"

// Message layer errors.
var (
	// Envelope decoding errors
	ErrMessageTooShort = errors.New("message: data too short")
	ErrLengthMismatch  = errors.New("message: declared length does not match data")
	ErrNotResponse     = errors.New("message: tag is not a response")

	// Envelope encoding errors
	ErrMessageTooLong = errors.New("message: exceeds maximum size")
	ErrInvalidMAC     = errors.New("message: invalid MAC length")
	ErrMissingSession = errors.New("message: session envelope requires a session ID")
	ErrInvalidSession = errors.New("message: invalid session ID")
)

// Envelope format constants.
const (
	// HeaderSize is the type tag (1) plus the big-endian length (2).
	HeaderSize = 3

	// SessionIDSize is the size of the session ID field in session envelopes.
	SessionIDSize = 1

	// MACSize is the size of the truncated C-MAC/R-MAC trailer.
	MACSize = 8

	// MaxMessageSize is the largest envelope, header included, the device accepts.
	MaxMessageSize = 2048

	// MaxDataSize is the largest payload that fits in a plain envelope.
	MaxDataSize = MaxMessageSize - HeaderSize
)
