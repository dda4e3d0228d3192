package message

import "fmt"

// MaxSessions is the number of session slots on the device.
const MaxSessions = 16

// SessionID identifies a session slot on the device. It is assigned by the
// device in the create-session response and is valid until the session is
// closed or expires.
type SessionID uint8

// NewSessionID validates a session ID received from the device.
func NewSessionID(id uint8) (SessionID, error) {
	if id >= MaxSessions {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSession, id)
	}
	return SessionID(id), nil
}

// SessionHeader returns the bytes that precede the payload of a session
// envelope: type || length || session ID. The length covers the session ID,
// a payload of payloadLen bytes and the MAC trailer. Both sides of the
// channel feed this header into the MAC.
func SessionHeader(t CommandType, id SessionID, payloadLen int) []byte {
	n := SessionIDSize + payloadLen + MACSize
	return []byte{byte(t), byte(n >> 8), byte(n), byte(id)}
}

// hasSessionEnvelope reports whether messages with tag t carry a
// session ID and MAC trailer.
func hasSessionEnvelope(t CommandType, response bool) bool {
	if response {
		return t == CommandSessionMessage.Response()
	}
	return t == CommandAuthenticateSession || t == CommandSessionMessage
}
