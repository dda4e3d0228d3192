package hsm

import "errors"

var (
	// ErrOpenerRequired is returned when ClientConfig has no Opener.
	ErrOpenerRequired = errors.New("hsm: transport opener is required")
)
