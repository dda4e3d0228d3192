package credentials

import "errors"

var (
	// ErrInvalidKeySize indicates a static key that is not 16 bytes.
	ErrInvalidKeySize = errors.New("credentials: static keys must be 16 bytes")

	// ErrEmptyPassword indicates an empty authentication key password.
	ErrEmptyPassword = errors.New("credentials: empty password")
)
