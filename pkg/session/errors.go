package session

import (
	"errors"
	"fmt"

	"github.com/backkem/yubihsm/pkg/message"
)

// Error kind sentinels. Every *Error matches exactly one of them with
// errors.Is.
var (
	// ErrCreateFailed is returned when the adapter cannot be opened, fails
	// its health check, or the device refuses to create a session.
	ErrCreateFailed = errors.New("session: create failed")

	// ErrAuthFailed is returned when mutual authentication fails.
	ErrAuthFailed = errors.New("session: authentication failed")

	// ErrProtocol is returned for malformed or unexpected responses. The
	// channel is always terminated.
	ErrProtocol = errors.New("session: protocol error")

	// ErrResponse is returned when the device reports an error status. The
	// channel stays usable.
	ErrResponse = errors.New("session: device error")

	// ErrTransport is returned when the adapter fails to exchange a
	// message. The channel is always terminated.
	ErrTransport = errors.New("session: transport error")
)

// Causes wrapped by *Error.
var (
	ErrNoChannel        = errors.New("session: no channel")
	ErrNoOpener         = errors.New("session: no transport opener")
	ErrNoCredentials    = errors.New("session: no credentials")
	ErrAdapterUnhealthy = errors.New("session: adapter unhealthy")
	ErrTypeMismatch     = errors.New("session: response type mismatch")
	ErrMalformedCreate  = errors.New("session: malformed create-session response")
)

// ErrorKind classifies connection failures.
type ErrorKind int

const (
	KindCreateFailed ErrorKind = iota + 1
	KindAuthFailed
	KindProtocol
	KindResponse
	KindTransport
)

// String returns a human-readable name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindCreateFailed:
		return "CreateFailed"
	case KindAuthFailed:
		return "AuthFailed"
	case KindProtocol:
		return "ProtocolError"
	case KindResponse:
		return "ResponseError"
	case KindTransport:
		return "Transport"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// IsValid returns true if this is a known kind.
func (k ErrorKind) IsValid() bool {
	return k >= KindCreateFailed && k <= KindTransport
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindCreateFailed:
		return ErrCreateFailed
	case KindAuthFailed:
		return ErrAuthFailed
	case KindProtocol:
		return ErrProtocol
	case KindResponse:
		return ErrResponse
	case KindTransport:
		return ErrTransport
	default:
		return nil
	}
}

// Error is returned by Connection operations.
type Error struct {
	Kind ErrorKind

	// Code is the device status for KindResponse, and for KindCreateFailed
	// or KindAuthFailed when the device refused the step.
	Code message.ErrorCode

	// Err is the underlying cause.
	Err error
}

func newError(kind ErrorKind, err error) *Error {
	e := &Error{Kind: kind, Err: err}
	var code message.ErrorCode
	if errors.As(err, &code) {
		e.Code = code
	}
	return e
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if s := e.Kind.sentinel(); s != nil {
		msg = s.Error()
	}
	if e.Err == nil {
		return msg
	}
	return msg + ": " + e.Err.Error()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}
