// Package crypto provides the symmetric primitives of the SCP03 secure
// channel: AES-CMAC, AES-CBC with counter derived IVs, ISO/IEC 9797-1
// padding and the GlobalPlatform key derivation function.
package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/pbkdf2"
)

// SCP03 key derivation constants (GlobalPlatform Card Specification
// Amendment D, Section 4.1.5).
const (
	// SCP03KeySize is the AES-128 key size used for static and session keys.
	SCP03KeySize = 16

	// DerivationCardCryptogram derives the card (device) cryptogram.
	DerivationCardCryptogram byte = 0x00

	// DerivationHostCryptogram derives the host cryptogram.
	DerivationHostCryptogram byte = 0x01

	// DerivationSENC derives the session encryption key from the static ENC key.
	DerivationSENC byte = 0x04

	// DerivationSMAC derives the command MAC key from the static MAC key.
	DerivationSMAC byte = 0x06

	// DerivationSRMAC derives the response MAC key from the static MAC key.
	DerivationSRMAC byte = 0x07

	// scp03LabelSize is the 11 zero bytes followed by the derivation constant.
	scp03LabelSize = 12
)

// ErrSCP03InvalidLength is returned for a derived length that is not a
// positive multiple of 8 bits.
var ErrSCP03InvalidLength = errors.New("scp03: invalid derived length")

// SCP03KDF derives key material with the SCP03 data derivation scheme:
// NIST SP 800-108 KDF in counter mode with AES-CMAC as the PRF.
//
// The fixed input for iteration i is:
//
//	label(11 x 00 || constant) || 00 || L (16-bit, bits) || i || context
//
// Parameters:
//   - key: 16-byte static or session key used as the PRF key
//   - constant: derivation constant (DerivationSENC, DerivationSMAC, ...)
//   - context: host challenge || card challenge
//   - bits: length of the derived data in bits (64 for cryptograms, 128 for keys)
func SCP03KDF(key []byte, constant byte, context []byte, bits int) ([]byte, error) {
	if bits <= 0 || bits%8 != 0 || bits > 0xffff {
		return nil, ErrSCP03InvalidLength
	}

	var fixed [scp03LabelSize + 4]byte
	fixed[scp03LabelSize-1] = constant
	fixed[scp03LabelSize] = 0x00
	binary.BigEndian.PutUint16(fixed[scp03LabelSize+1:], uint16(bits))

	out := make([]byte, 0, (bits/8+CMACSize-1)/CMACSize*CMACSize)
	for i := 1; len(out) < bits/8; i++ {
		fixed[scp03LabelSize+3] = byte(i)
		block, err := CMAC(key, fixed[:], context)
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
	}

	return out[:bits/8], nil
}

// PBKDF2SHA256 derives a key from a password using PBKDF2-HMAC-SHA256 (NIST 800-132).
// Used to turn an authentication key password into static SCP03 keys.
//
// Parameters:
//   - password: The password to derive from
//   - salt: Salt value
//   - iterations: Number of iterations
//   - keyLen: Number of bytes to derive
//
// Returns the derived key material.
func PBKDF2SHA256(password, salt []byte, iterations, keyLen int) []byte {
	return pbkdf2.Key(password, salt, iterations, keyLen, sha256.New)
}
