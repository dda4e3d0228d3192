package object

import "errors"

// Object package errors.
var (
	// ErrInvalidDomain is returned for a domain number outside 1..16.
	ErrInvalidDomain = errors.New("object: invalid domain")

	// ErrLabelTooLong is returned when a label exceeds LabelSize bytes.
	ErrLabelTooLong = errors.New("object: label too long")

	// ErrInvalidLength is returned when decoding a buffer of the wrong size.
	ErrInvalidLength = errors.New("object: invalid encoded length")
)
