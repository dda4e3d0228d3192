// Package transport moves opaque YubiHSM2 messages between the host and
// the device.
//
// An Adapter carries one encoded command per call and returns the encoded
// response. Adapters know nothing about sessions or encryption; the session
// layer drives them and decides what to do when they fail. Two adapters are
// provided: HTTPAdapter talks to a yubihsm-connector, PipeAdapter talks to
// an in-memory peer over a Pipe.
package transport

import (
	"context"

	"github.com/google/uuid"
)

// Adapter is a message-oriented link to the device.
type Adapter interface {
	// IsOpen reports whether the link is healthy. It may perform I/O.
	IsOpen() bool

	// SendMessage sends one encoded command and returns the encoded
	// response. The id correlates the exchange in logs.
	SendMessage(ctx context.Context, id uuid.UUID, msg []byte) ([]byte, error)

	// Close releases the link. Idempotent.
	Close() error
}

// Opener creates adapters. The session layer calls Open lazily and again
// after an adapter has been dropped as unhealthy.
type Opener interface {
	Open(ctx context.Context) (Adapter, error)
}
