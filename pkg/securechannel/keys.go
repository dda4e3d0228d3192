package securechannel

import (
	"github.com/backkem/yubihsm/pkg/credentials"
	"github.com/backkem/yubihsm/pkg/crypto"
)

// SessionKeys are the three SCP03 session keys derived from the static key
// pair and both challenges. They are held in crypto.Secret values and must
// be released with Zeroize.
type SessionKeys struct {
	enc  *crypto.Secret
	mac  *crypto.Secret
	rmac *crypto.Secret
}

// DeriveSessionKeys derives S-ENC, S-MAC and S-RMAC.
//
//	S-ENC  = KDF(static ENC, 0x04, host || card, 128)
//	S-MAC  = KDF(static MAC, 0x06, host || card, 128)
//	S-RMAC = KDF(static MAC, 0x07, host || card, 128)
func DeriveSessionKeys(key credentials.AuthKey, host, card Challenge) (*SessionKeys, error) {
	kdfCtx := kdfContext(host, card)

	derive := func(static []byte, constant byte) (*crypto.Secret, error) {
		b, err := crypto.SCP03KDF(static, constant, kdfCtx, 8*crypto.SCP03KeySize)
		if err != nil {
			return nil, err
		}
		s := crypto.NewSecret(b)
		crypto.Zeroize(b)
		return s, nil
	}

	keys := &SessionKeys{}
	var err error
	if keys.enc, err = derive(key.Enc[:], crypto.DerivationSENC); err != nil {
		keys.Zeroize()
		return nil, err
	}
	if keys.mac, err = derive(key.MAC[:], crypto.DerivationSMAC); err != nil {
		keys.Zeroize()
		return nil, err
	}
	if keys.rmac, err = derive(key.MAC[:], crypto.DerivationSRMAC); err != nil {
		keys.Zeroize()
		return nil, err
	}
	return keys, nil
}

// ENC returns S-ENC. The slice is overwritten by Zeroize.
func (k *SessionKeys) ENC() []byte { return k.enc.Bytes() }

// MAC returns S-MAC. The slice is overwritten by Zeroize.
func (k *SessionKeys) MAC() []byte { return k.mac.Bytes() }

// RMAC returns S-RMAC. The slice is overwritten by Zeroize.
func (k *SessionKeys) RMAC() []byte { return k.rmac.Bytes() }

// IsZeroized reports whether the keys have been released.
func (k *SessionKeys) IsZeroized() bool {
	return k.enc.IsZeroized() && k.mac.IsZeroized() && k.rmac.IsZeroized()
}

// Zeroize overwrites all three keys. Idempotent.
func (k *SessionKeys) Zeroize() {
	if k == nil {
		return
	}
	k.enc.Zeroize()
	k.mac.Zeroize()
	k.rmac.Zeroize()
}
