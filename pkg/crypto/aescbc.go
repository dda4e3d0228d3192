// AES-CBC helpers for SCP03 command and response encryption.
// The IV for each message is the AES encryption of the message counter,
// so an IV is never reused within a session.

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
)

// AESBlockSize is the AES block size in bytes.
const AESBlockSize = aes.BlockSize

// Errors for AES-CBC operations.
var (
	ErrAESCBCInvalidKeySize = errors.New("aescbc: invalid key size, must be 16 bytes")
	ErrAESCBCInvalidIVSize  = errors.New("aescbc: invalid IV size, must be 16 bytes")
	ErrAESCBCNotBlockSized  = errors.New("aescbc: input is not a multiple of the block size")
)

// CounterIV computes the SCP03 initial chaining vector for a message:
// AES-ECB(key, 00 x 12 || counter (big-endian uint32)).
func CounterIV(key []byte, counter uint32) ([]byte, error) {
	block, err := newAES128(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, aes.BlockSize)
	binary.BigEndian.PutUint32(iv[aes.BlockSize-4:], counter)
	block.Encrypt(iv, iv)
	return iv, nil
}

// EncryptCBC encrypts block-aligned plaintext with AES-128-CBC.
// The returned slice does not alias plaintext.
func EncryptCBC(key, iv, plaintext []byte) ([]byte, error) {
	block, err := checkCBC(key, iv, plaintext)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)
	return out, nil
}

// DecryptCBC decrypts block-aligned ciphertext with AES-128-CBC.
// The returned slice does not alias ciphertext.
func DecryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := checkCBC(key, iv, ciphertext)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return out, nil
}

func checkCBC(key, iv, data []byte) (cipher.Block, error) {
	if len(iv) != aes.BlockSize {
		return nil, ErrAESCBCInvalidIVSize
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, ErrAESCBCNotBlockSized
	}
	return newAES128(key)
}

func newAES128(key []byte) (cipher.Block, error) {
	if len(key) != SCP03KeySize {
		return nil, ErrAESCBCInvalidKeySize
	}
	return aes.NewCipher(key)
}
