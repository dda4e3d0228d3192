package securechannel

import "errors"

var (
	// ErrCardCryptogramMismatch indicates the device failed to prove
	// knowledge of the static keys.
	ErrCardCryptogramMismatch = errors.New("securechannel: card cryptogram mismatch")

	// ErrHostCryptogramMismatch indicates the host failed to prove
	// knowledge of the static keys. Only the device side checks this.
	ErrHostCryptogramMismatch = errors.New("securechannel: host cryptogram mismatch")

	// ErrInvalidState indicates an operation not allowed in the channel's
	// current state.
	ErrInvalidState = errors.New("securechannel: invalid channel state")

	// ErrChannelTerminated indicates use of a terminated channel.
	ErrChannelTerminated = errors.New("securechannel: channel terminated")

	// ErrAuthenticationRejected indicates the device did not accept the
	// authenticate-session command.
	ErrAuthenticationRejected = errors.New("securechannel: authentication rejected")

	// ErrCounterExhausted indicates the channel has sent the maximum number
	// of messages and must be replaced by a new session.
	ErrCounterExhausted = errors.New("securechannel: message counter exhausted")

	// ErrMACMismatch indicates a session message failed MAC verification.
	ErrMACMismatch = errors.New("securechannel: MAC mismatch")

	// ErrUnexpectedResponse indicates a response that is not a session
	// message for this channel.
	ErrUnexpectedResponse = errors.New("securechannel: unexpected response")

	// ErrInvalidCiphertext indicates a session message payload that is not
	// a whole number of AES blocks.
	ErrInvalidCiphertext = errors.New("securechannel: invalid ciphertext length")
)
