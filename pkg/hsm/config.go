package hsm

import (
	"github.com/pion/logging"

	"github.com/backkem/yubihsm/pkg/credentials"
	"github.com/backkem/yubihsm/pkg/transport"
)

// ClientConfig holds the configuration of a Client.
type ClientConfig struct {
	// Opener acquires the transport adapter. Required.
	Opener transport.Opener

	// Credentials authenticate the session. Nil selects the factory
	// default authentication key.
	Credentials *credentials.Credentials

	// MessageLimit is the number of session messages per session, the
	// closing CloseSession included, before the client reopens it. Zero
	// selects the default.
	MessageLimit uint32

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration for errors.
func (c *ClientConfig) Validate() error {
	if c.Opener == nil {
		return ErrOpenerRequired
	}
	return nil
}

// applyDefaults fills in default values for unset fields.
func (c *ClientConfig) applyDefaults() {
	if c.Credentials == nil {
		c.Credentials = credentials.Default()
	}
}
