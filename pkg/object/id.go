package object

import (
	"bytes"
	"fmt"
)

// ID identifies an object stored on the HSM. IDs are only unique per Type.
type ID uint16

// Type is the kind of an object on the HSM.
type Type uint8

const (
	TypeOpaque Type = iota + 1
	TypeAuthenticationKey
	TypeAsymmetricKey
	TypeWrapKey
	TypeHMACKey
	TypeTemplate
	TypeOTPAEADKey
	TypeSymmetricKey
)

// String returns a human-readable name for the object type.
func (t Type) String() string {
	switch t {
	case TypeOpaque:
		return "opaque"
	case TypeAuthenticationKey:
		return "authentication-key"
	case TypeAsymmetricKey:
		return "asymmetric-key"
	case TypeWrapKey:
		return "wrap-key"
	case TypeHMACKey:
		return "hmac-key"
	case TypeTemplate:
		return "template"
	case TypeOTPAEADKey:
		return "otp-aead-key"
	case TypeSymmetricKey:
		return "symmetric-key"
	default:
		return fmt.Sprintf("type(%#x)", uint8(t))
	}
}

// Algorithm identifies a key algorithm. Only the asymmetric algorithms this
// module generates keys with are named.
type Algorithm uint8

const (
	AlgorithmRSA2048 Algorithm = 9
	AlgorithmECP256  Algorithm = 12
	AlgorithmECP384  Algorithm = 13
	AlgorithmECK256  Algorithm = 15
	AlgorithmED25519 Algorithm = 46

	// AlgorithmAES128YubicoAuthentication is the algorithm of
	// authentication key objects.
	AlgorithmAES128YubicoAuthentication Algorithm = 38
)

// String returns a human-readable name for the algorithm.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmRSA2048:
		return "rsa2048"
	case AlgorithmECP256:
		return "ecp256"
	case AlgorithmECP384:
		return "ecp384"
	case AlgorithmECK256:
		return "eck256"
	case AlgorithmED25519:
		return "ed25519"
	case AlgorithmAES128YubicoAuthentication:
		return "aes128-yubico-authentication"
	default:
		return fmt.Sprintf("algorithm(%d)", uint8(a))
	}
}

// LabelSize is the fixed wire size of a label.
const LabelSize = 40

// Label is a NUL-padded, fixed-size object label.
type Label [LabelSize]byte

// NewLabel builds a label from a string of at most LabelSize bytes.
func NewLabel(s string) (Label, error) {
	var l Label
	if len(s) > LabelSize {
		return l, fmt.Errorf("%w: %d bytes", ErrLabelTooLong, len(s))
	}
	copy(l[:], s)
	return l, nil
}

// LabelFromBytes decodes a wire label.
func LabelFromBytes(b []byte) (Label, error) {
	var l Label
	if len(b) != LabelSize {
		return l, ErrInvalidLength
	}
	copy(l[:], b)
	return l, nil
}

// String returns the label with trailing NUL padding removed.
func (l Label) String() string {
	return string(bytes.TrimRight(l[:], "\x00"))
}

// Origin records how an object came to exist on the HSM.
type Origin uint8

const (
	OriginGenerated Origin = 0x01
	OriginImported  Origin = 0x02

	// OriginWrapped is set in addition to the original origin for objects
	// imported under wrap.
	OriginWrapped Origin = 0x10
)

// String returns a human-readable name for the origin.
func (o Origin) String() string {
	base := "unknown"
	switch o &^ OriginWrapped {
	case OriginGenerated:
		base = "generated"
	case OriginImported:
		base = "imported"
	}
	if o&OriginWrapped != 0 {
		return base + ":wrapped"
	}
	return base
}
