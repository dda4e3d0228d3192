// Package credentials holds the static SCP03 key pair an authentication key
// object is made of, and the ID of that object on the device.
package credentials

import (
	"fmt"

	"github.com/backkem/yubihsm/pkg/crypto"
	"github.com/backkem/yubihsm/pkg/object"
)

const (
	// KeySize is the size of each static key.
	KeySize = crypto.SCP03KeySize

	// DefaultAuthKeyID is the authentication key present on a factory
	// reset device.
	DefaultAuthKeyID object.ID = 1

	// DefaultPassword is the password of the factory default
	// authentication key.
	DefaultPassword = "password"

	// PasswordSalt and PasswordIterations are the PBKDF2 parameters the
	// device tooling uses to turn a password into a static key pair.
	PasswordSalt       = "Yubico"
	PasswordIterations = 10000
)

// AuthKey is the pair of static keys shared with the device.
type AuthKey struct {
	// Enc is the static encryption key. S-ENC is derived from it.
	Enc [KeySize]byte

	// MAC is the static MAC key. S-MAC and S-RMAC are derived from it.
	MAC [KeySize]byte
}

// NewAuthKey builds an AuthKey from raw static keys.
func NewAuthKey(enc, mac []byte) (AuthKey, error) {
	var k AuthKey
	if len(enc) != KeySize || len(mac) != KeySize {
		return k, fmt.Errorf("%w: enc=%d mac=%d", ErrInvalidKeySize, len(enc), len(mac))
	}
	copy(k.Enc[:], enc)
	copy(k.MAC[:], mac)
	return k, nil
}

// FromPassword derives an AuthKey from a password:
//
//	PBKDF2-HMAC-SHA256(password, "Yubico", 10000) -> enc (16) || mac (16)
func FromPassword(password []byte) (AuthKey, error) {
	if len(password) == 0 {
		return AuthKey{}, ErrEmptyPassword
	}
	derived := crypto.PBKDF2SHA256(password, []byte(PasswordSalt), PasswordIterations, 2*KeySize)
	defer crypto.Zeroize(derived)

	return NewAuthKey(derived[:KeySize], derived[KeySize:])
}

// Zeroize overwrites both static keys.
func (k *AuthKey) Zeroize() {
	crypto.Zeroize(k.Enc[:])
	crypto.Zeroize(k.MAC[:])
}

// String never prints key material.
func (k AuthKey) String() string {
	return "AuthKey(redacted)"
}

// Credentials identify an authentication key object and carry its keys.
type Credentials struct {
	AuthKeyID object.ID
	AuthKey   AuthKey
}

// New returns credentials for the given key ID.
func New(id object.ID, key AuthKey) *Credentials {
	return &Credentials{AuthKeyID: id, AuthKey: key}
}

// Default returns the credentials of the factory default authentication key.
func Default() *Credentials {
	key, err := FromPassword([]byte(DefaultPassword))
	if err != nil {
		// Unreachable: the default password is non-empty.
		panic(err)
	}
	return New(DefaultAuthKeyID, key)
}

// Zeroize overwrites the key material.
func (c *Credentials) Zeroize() {
	c.AuthKey.Zeroize()
}
