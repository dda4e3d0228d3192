package securechannel

import (
	"crypto/subtle"

	"github.com/backkem/yubihsm/pkg/crypto"
	"github.com/backkem/yubihsm/pkg/message"
)

// ChainSize is the size of the MAC chaining value (a full CMAC block).
const ChainSize = crypto.CMACSize

// ComputeMAC returns the full CMAC over
//
//	chain || type || length || session ID || payload
//
// Commands are MACed with S-MAC and the result becomes the next chaining
// value; its first 8 bytes are sent as the C-MAC. Responses are MACed with
// S-RMAC over the chaining value of the command they answer and only the
// first 8 bytes are used.
func ComputeMAC(key []byte, chain [ChainSize]byte, t message.CommandType, id message.SessionID, payload []byte) ([ChainSize]byte, error) {
	var out [ChainSize]byte
	sum, err := crypto.CMAC(key, chain[:], message.SessionHeader(t, id, len(payload)), payload)
	if err != nil {
		return out, err
	}
	copy(out[:], sum)
	return out, nil
}

// VerifyMAC compares a received 8-byte MAC trailer against the leading
// bytes of the expected CMAC in constant time.
func VerifyMAC(expected [ChainSize]byte, received []byte) error {
	if len(received) != message.MACSize ||
		subtle.ConstantTimeCompare(expected[:message.MACSize], received) != 1 {
		return ErrMACMismatch
	}
	return nil
}
