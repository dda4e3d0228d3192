package crypto

import "runtime"

// Secret holds key material that must be overwritten once it is no longer
// needed. The zero Secret is empty.
//
// A Secret is not safe for concurrent use.
type Secret struct {
	b []byte
}

// NewSecret copies b into a new Secret. The caller remains responsible for
// its own copy.
func NewSecret(b []byte) *Secret {
	s := &Secret{b: make([]byte, len(b))}
	copy(s.b, b)
	return s
}

// Bytes returns the secret material, or nil once zeroized. The returned slice
// aliases the secret and is overwritten by Zeroize.
func (s *Secret) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.b
}

// Len returns the length of the secret material.
func (s *Secret) Len() int {
	if s == nil {
		return 0
	}
	return len(s.b)
}

// IsZeroized reports whether Zeroize has been called.
func (s *Secret) IsZeroized() bool {
	return s == nil || s.b == nil
}

// Zeroize overwrites the secret and releases it. Idempotent.
func (s *Secret) Zeroize() {
	if s == nil || s.b == nil {
		return
	}
	Zeroize(s.b)
	s.b = nil
}

// Zeroize overwrites b with zeros.
func Zeroize(b []byte) {
	clear(b)
	runtime.KeepAlive(b)
}
