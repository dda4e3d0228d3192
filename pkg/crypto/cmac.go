package crypto

import (
	"crypto/aes"

	"github.com/aead/cmac"
)

// CMACSize is the full AES-CMAC output size in bytes.
const CMACSize = aes.BlockSize

// CMAC computes AES-CMAC (NIST SP 800-38B) over the concatenation of parts.
func CMAC(key []byte, parts ...[]byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	mac, err := cmac.New(block)
	if err != nil {
		return nil, err
	}

	for _, p := range parts {
		// hash.Hash writes never fail.
		_, _ = mac.Write(p)
	}

	return mac.Sum(nil), nil
}
