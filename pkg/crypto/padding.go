package crypto

import (
	"crypto/aes"
	"errors"
)

// ErrInvalidPadding is returned when ISO/IEC 9797-1 method 2 padding is malformed.
var ErrInvalidPadding = errors.New("padding: invalid 0x80 padding")

// Pad80 applies ISO/IEC 9797-1 padding method 2: a single 0x80 byte followed
// by zero bytes up to the next AES block boundary. Padding is always added,
// so an already aligned input grows by one block.
func Pad80(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	out := make([]byte, len(b)+n)
	copy(out, b)
	out[len(b)] = 0x80
	return out
}

// Unpad80 removes ISO/IEC 9797-1 method 2 padding. The input must be block
// aligned and the padding must lie within the final block.
func Unpad80(b []byte) ([]byte, error) {
	if len(b) == 0 || len(b)%aes.BlockSize != 0 {
		return nil, ErrInvalidPadding
	}

	for i := len(b) - 1; i >= len(b)-aes.BlockSize; i-- {
		switch b[i] {
		case 0x00:
			continue
		case 0x80:
			return b[:i], nil
		default:
			return nil, ErrInvalidPadding
		}
	}

	return nil, ErrInvalidPadding
}
