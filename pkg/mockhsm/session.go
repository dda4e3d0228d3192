package mockhsm

import (
	"encoding/binary"

	"github.com/backkem/yubihsm/pkg/crypto"
	"github.com/backkem/yubihsm/pkg/message"
	"github.com/backkem/yubihsm/pkg/object"
	"github.com/backkem/yubihsm/pkg/securechannel"
)

// createSessionSize is key id(2) || host challenge(8).
const createSessionSize = 2 + securechannel.ChallengeSize

// session is the device side of one secure channel.
type session struct {
	id    message.SessionID
	keyID object.ID
	host  securechannel.Challenge
	card  securechannel.Challenge
	keys  *securechannel.SessionKeys

	chain         [securechannel.ChainSize]byte
	counter       uint32
	authenticated bool
}

func (s *session) close() {
	s.keys.Zeroize()
	crypto.Zeroize(s.chain[:])
	s.counter = 0
	s.authenticated = false
}

func (d *Device) lookup(id *message.SessionID) *session {
	if id == nil || int(*id) >= len(d.sessions) {
		return nil
	}
	return d.sessions[*id]
}

func (d *Device) drop(s *session) {
	if d.log != nil {
		d.log.Debugf("session %d closed", s.id)
	}
	s.close()
	d.sessions[s.id] = nil
}

func (d *Device) createSession(cmd *message.CommandMessage) *message.ResponseMessage {
	if len(cmd.Data) != createSessionSize {
		return message.NewErrorResponse(message.ErrorCodeWrongLength)
	}
	keyID := object.ID(binary.BigEndian.Uint16(cmd.Data[:2]))
	key, ok := d.authKeys[keyID]
	if !ok {
		if d.log != nil {
			d.log.Warnf("create-session: unknown key %d", keyID)
		}
		return message.NewErrorResponse(message.ErrorCodeObjectNotFound)
	}

	slot := -1
	for i, s := range d.sessions {
		if s == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		return message.NewErrorResponse(message.ErrorCodeSessionsFull)
	}

	var host securechannel.Challenge
	copy(host[:], cmd.Data[2:])
	card, err := securechannel.RandomChallengeFrom(d.rand)
	if err != nil {
		if d.log != nil {
			d.log.Errorf("create-session: %v", err)
		}
		return message.NewErrorResponse(message.ErrorCodeSessionFailed)
	}

	keys, err := securechannel.DeriveSessionKeys(key, host, card)
	if err != nil {
		return message.NewErrorResponse(message.ErrorCodeSessionFailed)
	}
	cc, err := securechannel.ComputeCardCryptogram(keys, host, card)
	if err != nil {
		keys.Zeroize()
		return message.NewErrorResponse(message.ErrorCodeSessionFailed)
	}
	if d.fault == FaultBadCardCryptogram {
		cc[0] ^= 0x01
	}

	s := &session{
		id:    message.SessionID(slot),
		keyID: keyID,
		host:  host,
		card:  card,
		keys:  keys,
	}
	d.sessions[slot] = s
	if d.log != nil {
		d.log.Debugf("session %d created with key %d", s.id, keyID)
	}

	data := make([]byte, 0, message.SessionIDSize+securechannel.ChallengeSize+securechannel.CryptogramSize)
	data = append(data, byte(s.id))
	data = append(data, card[:]...)
	data = append(data, cc[:]...)
	return message.NewResponse(message.CommandCreateSession, data)
}

func (d *Device) authenticateSession(cmd *message.CommandMessage) *message.ResponseMessage {
	s := d.lookup(cmd.SessionID)
	if s == nil || s.authenticated {
		return message.NewErrorResponse(message.ErrorCodeInvalidSession)
	}
	if len(cmd.Data) != securechannel.CryptogramSize {
		d.drop(s)
		return message.NewErrorResponse(message.ErrorCodeWrongLength)
	}

	mac, err := securechannel.ComputeMAC(s.keys.MAC(), s.chain, cmd.Type, s.id, cmd.Data)
	if err != nil || securechannel.VerifyMAC(mac, cmd.MAC) != nil {
		if d.log != nil {
			d.log.Warnf("session %d: authenticate-session MAC mismatch", s.id)
		}
		d.drop(s)
		return message.NewErrorResponse(message.ErrorCodeAuthenticationFailed)
	}

	expected, err := securechannel.ComputeHostCryptogram(s.keys, s.host, s.card)
	var received securechannel.Cryptogram
	copy(received[:], cmd.Data)
	if err != nil || !expected.Equal(received) || d.fault == FaultRejectAuthenticate {
		if d.log != nil {
			d.log.Warnf("session %d: host cryptogram rejected", s.id)
		}
		d.drop(s)
		return message.NewErrorResponse(message.ErrorCodeAuthenticationFailed)
	}

	s.chain = mac
	s.counter = 1
	s.authenticated = true
	if d.log != nil {
		d.log.Debugf("session %d authenticated", s.id)
	}
	return message.NewResponse(message.CommandAuthenticateSession, nil)
}

func (d *Device) sessionMessage(cmd *message.CommandMessage) *message.ResponseMessage {
	s := d.lookup(cmd.SessionID)
	if s == nil || !s.authenticated {
		return message.NewErrorResponse(message.ErrorCodeInvalidSession)
	}

	mac, err := securechannel.ComputeMAC(s.keys.MAC(), s.chain, cmd.Type, s.id, cmd.Data)
	if err != nil || securechannel.VerifyMAC(mac, cmd.MAC) != nil {
		if d.log != nil {
			d.log.Warnf("session %d: command MAC mismatch", s.id)
		}
		d.drop(s)
		return message.NewErrorResponse(message.ErrorCodeAuthenticationFailed)
	}
	s.chain = mac

	iv, err := crypto.CounterIV(s.keys.ENC(), s.counter)
	if err != nil {
		d.drop(s)
		return message.NewErrorResponse(message.ErrorCodeSessionFailed)
	}
	s.counter++

	if d.fault == FaultDeviceError {
		return message.NewErrorResponse(message.ErrorCodeStorageFailed)
	}

	rsp := d.execute(s, d.unwrap(s, iv, cmd.Data))
	if d.fault == FaultWrongResponseType && !rsp.IsErr() {
		rsp.Type = wrongResponseType(rsp.Type)
	}

	out, err := d.wrap(s, iv, rsp)
	if err != nil {
		if d.log != nil {
			d.log.Errorf("session %d: wrap response: %v", s.id, err)
		}
		d.drop(s)
		return message.NewErrorResponse(message.ErrorCodeSessionFailed)
	}
	if t, ok := rsp.Command(); ok && t == message.CommandCloseSession {
		d.drop(s)
	}
	return out
}

// unwrap decrypts the inner command. It returns nil if the payload does not
// decrypt to a well-formed command.
func (d *Device) unwrap(s *session, iv, ct []byte) *message.CommandMessage {
	if len(ct) == 0 || len(ct)%crypto.AESBlockSize != 0 {
		return nil
	}
	padded, err := crypto.DecryptCBC(s.keys.ENC(), iv, ct)
	if err != nil {
		return nil
	}
	defer crypto.Zeroize(padded)

	plain, err := crypto.Unpad80(padded)
	if err != nil {
		return nil
	}
	inner, err := message.ParseCommand(plain)
	if err != nil {
		if d.log != nil {
			d.log.Warnf("session %d: malformed inner command: %v", s.id, err)
		}
		return nil
	}
	return inner
}

func (d *Device) wrap(s *session, iv []byte, rsp *message.ResponseMessage) (*message.ResponseMessage, error) {
	plain, err := rsp.Encode()
	if err != nil {
		return nil, err
	}
	padded := crypto.Pad80(plain)
	defer crypto.Zeroize(padded)

	ct, err := crypto.EncryptCBC(s.keys.ENC(), iv, padded)
	if err != nil {
		return nil, err
	}

	t := message.CommandSessionMessage.Response()
	rmac, err := securechannel.ComputeMAC(s.keys.RMAC(), s.chain, t, s.id, ct)
	if err != nil {
		return nil, err
	}
	if d.fault == FaultCorruptRMAC {
		rmac[0] ^= 0x80
	}

	id := s.id
	return &message.ResponseMessage{
		Type:      t,
		SessionID: &id,
		Data:      ct,
		MAC:       append([]byte(nil), rmac[:message.MACSize]...),
	}, nil
}

// wrongResponseType returns a response tag for a different command.
func wrongResponseType(t message.CommandType) message.CommandType {
	if t == message.CommandEcho.Response() {
		return message.CommandDeviceInfo.Response()
	}
	return message.CommandEcho.Response()
}
