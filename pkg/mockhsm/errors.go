package mockhsm

import "errors"

var (
	// ErrKeyExists indicates an authentication key ID already in use.
	ErrKeyExists = errors.New("mockhsm: authentication key already exists")

	// ErrInvalidFault indicates an unknown fault.
	ErrInvalidFault = errors.New("mockhsm: invalid fault")
)
