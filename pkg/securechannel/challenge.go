package securechannel

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
)

const (
	// ChallengeSize is the size of host and card challenges.
	ChallengeSize = 8

	// CryptogramSize is the size of host and card cryptograms.
	CryptogramSize = 8
)

// Challenge is a random nonce contributed by one side of the handshake.
type Challenge [ChallengeSize]byte

// RandomChallenge returns a challenge read from crypto/rand.
func RandomChallenge() (Challenge, error) {
	return RandomChallengeFrom(rand.Reader)
}

// RandomChallengeFrom returns a challenge read from r.
func RandomChallengeFrom(r io.Reader) (Challenge, error) {
	var c Challenge
	if _, err := io.ReadFull(r, c[:]); err != nil {
		return c, fmt.Errorf("securechannel: read challenge: %w", err)
	}
	return c, nil
}

// String returns the challenge in hex.
func (c Challenge) String() string {
	return hex.EncodeToString(c[:])
}

// Cryptogram is an 8-byte value proving knowledge of the static keys
// bound to a specific pair of challenges.
type Cryptogram [CryptogramSize]byte

// Equal compares two cryptograms in constant time.
func (c Cryptogram) Equal(other Cryptogram) bool {
	return subtle.ConstantTimeCompare(c[:], other[:]) == 1
}

// kdfContext returns host || card, the KDF context for a session.
func kdfContext(host, card Challenge) []byte {
	b := make([]byte, 0, 2*ChallengeSize)
	b = append(b, host[:]...)
	return append(b, card[:]...)
}
