package securechannel

import "github.com/backkem/yubihsm/pkg/crypto"

// ComputeCardCryptogram returns the cryptogram the device must present in
// its create-session response.
func ComputeCardCryptogram(keys *SessionKeys, host, card Challenge) (Cryptogram, error) {
	return computeCryptogram(keys, crypto.DerivationCardCryptogram, host, card)
}

// ComputeHostCryptogram returns the cryptogram the host presents in
// authenticate-session.
func ComputeHostCryptogram(keys *SessionKeys, host, card Challenge) (Cryptogram, error) {
	return computeCryptogram(keys, crypto.DerivationHostCryptogram, host, card)
}

func computeCryptogram(keys *SessionKeys, constant byte, host, card Challenge) (Cryptogram, error) {
	var c Cryptogram
	if keys.IsZeroized() {
		return c, ErrChannelTerminated
	}
	b, err := crypto.SCP03KDF(keys.MAC(), constant, kdfContext(host, card), 8*CryptogramSize)
	if err != nil {
		return c, err
	}
	copy(c[:], b)
	return c, nil
}

// VerifyCryptogram compares the received card cryptogram against the
// expected one in constant time.
func VerifyCryptogram(expected, received Cryptogram) error {
	if !expected.Equal(received) {
		return ErrCardCryptogramMismatch
	}
	return nil
}
