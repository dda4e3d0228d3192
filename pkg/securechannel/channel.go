// Package securechannel implements the host side of the SCP03 secure
// channel used by the YubiHSM2.
//
// A Channel is created from the create-session exchange once the card
// cryptogram has been computed, authenticates itself with an
// authenticate-session command, and then wraps every command in an
// encrypted and MACed session message:
//
//	ch, _ := securechannel.New(id, authKey, host, card)
//	if err := securechannel.VerifyCryptogram(ch.CardCryptogram(), received); err != nil {
//		ch.Terminate()
//	}
//	auth, _ := ch.AuthenticateSession()
//	// send auth, receive rsp
//	_ = ch.FinishAuthenticateSession(rsp)
//	wrapped, _ := ch.EncryptCommand(cmd)
//	// send wrapped, receive rsp
//	inner, _ := ch.DecryptResponse(rsp)
//
// Every verification failure terminates the channel: keys, chaining value
// and counter are zeroized and the channel cannot be used again.
//
// A Channel is not safe for concurrent use.
package securechannel

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/backkem/yubihsm/pkg/credentials"
	"github.com/backkem/yubihsm/pkg/crypto"
	"github.com/backkem/yubihsm/pkg/message"
)

// DefaultMessageLimit is the number of session messages a channel sends
// before it must be replaced.
const DefaultMessageLimit = 10000

// minMessageLimit is one command plus the reserved CloseSession.
const minMessageLimit = 2

// Option configures a Channel.
type Option func(*Channel)

// WithMessageLimit sets the number of session messages the channel
// encrypts before failing with ErrCounterExhausted. The last one is
// reserved for CloseSession, so limit-1 other commands fit. Zero keeps the
// default; smaller values are raised to 2.
func WithMessageLimit(limit uint32) Option {
	return func(c *Channel) {
		switch {
		case limit == 0:
		case limit < minMessageLimit:
			c.limit = minMessageLimit
		default:
			c.limit = limit
		}
	}
}

// Channel is an SCP03 session between the host and the device.
type Channel struct {
	id    message.SessionID
	state State
	keys  *SessionKeys

	host           Challenge
	card           Challenge
	cardCryptogram Cryptogram

	// chain is the MAC of the last command, all zero before the first.
	chain [ChainSize]byte

	// counter is the IV counter of the next command. It is 1 after
	// authentication and only ever increases.
	counter uint32
	limit   uint32

	// iv of the command awaiting its response.
	iv      []byte
	pending bool
}

// New derives the session keys for the challenges exchanged in
// create-session and computes the card cryptogram the device is expected
// to have returned.
//
// The caller must compare CardCryptogram with the received value (see
// VerifyCryptogram) before authenticating, and terminate the channel if
// they differ.
func New(id message.SessionID, authKey credentials.AuthKey, host, card Challenge, opts ...Option) (*Channel, error) {
	keys, err := DeriveSessionKeys(authKey, host, card)
	if err != nil {
		return nil, err
	}

	cc, err := ComputeCardCryptogram(keys, host, card)
	if err != nil {
		keys.Zeroize()
		return nil, err
	}

	c := &Channel{
		id:             id,
		state:          StateCreated,
		keys:           keys,
		host:           host,
		card:           card,
		cardCryptogram: cc,
		limit:          DefaultMessageLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ID returns the session ID assigned by the device.
func (c *Channel) ID() message.SessionID {
	return c.id
}

// State returns the current channel state.
func (c *Channel) State() State {
	return c.state
}

// Counter returns the IV counter of the next command.
func (c *Channel) Counter() uint32 {
	return c.counter
}

// Exhausted reports whether only the reserved CloseSession message is
// left. A channel that is not yet authenticated or already terminated is
// also exhausted.
func (c *Channel) Exhausted() bool {
	return c.counter == 0 || c.counter == math.MaxUint32 || c.counter-1 >= c.limit-1
}

// CanClose reports whether the channel can still send CloseSession.
func (c *Channel) CanClose() bool {
	return c.state == StateActive && c.counter != math.MaxUint32 && c.counter-1 < c.limit
}

// CardCryptogram returns the expected card cryptogram.
func (c *Channel) CardCryptogram() Cryptogram {
	return c.cardCryptogram
}

// AuthenticateSession builds the authenticate-session command carrying the
// host cryptogram. Its MAC starts the chain.
func (c *Channel) AuthenticateSession() (*message.CommandMessage, error) {
	if err := c.require(StateCreated); err != nil {
		return nil, err
	}

	hc, err := ComputeHostCryptogram(c.keys, c.host, c.card)
	if err != nil {
		c.Terminate()
		return nil, err
	}

	mac, err := ComputeMAC(c.keys.MAC(), c.chain, message.CommandAuthenticateSession, c.id, hc[:])
	if err != nil {
		c.Terminate()
		return nil, err
	}
	c.chain = mac
	c.state = StateAuthenticating

	id := c.id
	return &message.CommandMessage{
		UUID:      uuid.New(),
		Type:      message.CommandAuthenticateSession,
		SessionID: &id,
		Data:      hc[:],
		MAC:       append([]byte(nil), mac[:message.MACSize]...),
	}, nil
}

// FinishAuthenticateSession processes the device's reply to
// authenticate-session. Anything other than a successful
// authenticate-session response terminates the channel.
func (c *Channel) FinishAuthenticateSession(rsp *message.ResponseMessage) error {
	if err := c.require(StateAuthenticating); err != nil {
		return err
	}

	switch {
	case rsp == nil:
		c.Terminate()
		return ErrAuthenticationRejected
	case rsp.IsErr():
		c.Terminate()
		return fmt.Errorf("%w: %w", ErrAuthenticationRejected, rsp.Code)
	case rsp.Type != message.CommandAuthenticateSession.Response():
		c.Terminate()
		return fmt.Errorf("%w: got %s", ErrAuthenticationRejected, rsp.Type)
	}

	c.counter = 1
	c.state = StateActive
	return nil
}

// EncryptCommand wraps a plaintext command into a session message.
//
// The encoded command is padded, encrypted with AES-CBC under S-ENC using
// an IV derived from the counter, and MACed with S-MAC over the chaining
// value. The counter then advances by one. The returned message keeps the
// UUID of cmd.
//
// Once the channel is exhausted only CloseSession is accepted; any other
// command terminates the channel with ErrCounterExhausted.
func (c *Channel) EncryptCommand(cmd *message.CommandMessage) (*message.CommandMessage, error) {
	if err := c.require(StateActive); err != nil {
		return nil, err
	}
	if cmd.Type == message.CommandCloseSession && !c.CanClose() ||
		cmd.Type != message.CommandCloseSession && c.Exhausted() {
		c.Terminate()
		return nil, ErrCounterExhausted
	}

	inner, err := cmd.Encode()
	if err != nil {
		return nil, err
	}
	padded := crypto.Pad80(inner)
	defer crypto.Zeroize(padded)
	crypto.Zeroize(inner)

	if message.HeaderSize+message.SessionIDSize+len(padded)+message.MACSize > message.MaxMessageSize {
		return nil, message.ErrMessageTooLong
	}

	iv, err := crypto.CounterIV(c.keys.ENC(), c.counter)
	if err != nil {
		c.Terminate()
		return nil, err
	}
	ct, err := crypto.EncryptCBC(c.keys.ENC(), iv, padded)
	if err != nil {
		c.Terminate()
		return nil, err
	}
	mac, err := ComputeMAC(c.keys.MAC(), c.chain, message.CommandSessionMessage, c.id, ct)
	if err != nil {
		c.Terminate()
		return nil, err
	}

	c.chain = mac
	c.counter++
	c.iv = iv
	c.pending = true

	id := c.id
	return &message.CommandMessage{
		UUID:      cmd.UUID,
		Type:      message.CommandSessionMessage,
		SessionID: &id,
		Data:      ct,
		MAC:       append([]byte(nil), mac[:message.MACSize]...),
	}, nil
}

// DecryptResponse verifies and decrypts the session message answering the
// last command. The R-MAC is checked before anything is decrypted.
//
// Any failure terminates the channel. Device error responses outside the
// session envelope carry no MAC and must be handled by the caller before
// calling DecryptResponse.
func (c *Channel) DecryptResponse(rsp *message.ResponseMessage) (*message.ResponseMessage, error) {
	if err := c.require(StateActive); err != nil {
		return nil, err
	}
	if !c.pending {
		return nil, fmt.Errorf("%w: no command awaiting a response", ErrInvalidState)
	}

	inner, err := c.decrypt(rsp)
	if err != nil {
		c.Terminate()
		return nil, err
	}
	c.pending = false
	inner.UUID = rsp.UUID
	return inner, nil
}

func (c *Channel) decrypt(rsp *message.ResponseMessage) (*message.ResponseMessage, error) {
	if rsp == nil || rsp.Type != message.CommandSessionMessage.Response() {
		return nil, ErrUnexpectedResponse
	}
	if rsp.SessionID == nil || *rsp.SessionID != c.id {
		return nil, fmt.Errorf("%w: wrong session", ErrUnexpectedResponse)
	}

	expected, err := ComputeMAC(c.keys.RMAC(), c.chain, rsp.Type, c.id, rsp.Data)
	if err != nil {
		return nil, err
	}
	if err := VerifyMAC(expected, rsp.MAC); err != nil {
		return nil, err
	}

	if len(rsp.Data) == 0 || len(rsp.Data)%crypto.AESBlockSize != 0 {
		return nil, ErrInvalidCiphertext
	}
	padded, err := crypto.DecryptCBC(c.keys.ENC(), c.iv, rsp.Data)
	if err != nil {
		return nil, err
	}
	defer crypto.Zeroize(padded)

	plain, err := crypto.Unpad80(padded)
	if err != nil {
		return nil, err
	}
	return message.ParseResponse(plain)
}

// Terminate zeroizes the keys, chaining value and counter. Idempotent.
func (c *Channel) Terminate() {
	if c.state == StateTerminated {
		return
	}
	c.keys.Zeroize()
	crypto.Zeroize(c.chain[:])
	crypto.Zeroize(c.iv)
	c.iv = nil
	c.counter = 0
	c.pending = false
	c.state = StateTerminated
}

func (c *Channel) require(s State) error {
	if c.state == StateTerminated {
		return ErrChannelTerminated
	}
	if c.state != s {
		return fmt.Errorf("%w: %s", ErrInvalidState, c.state)
	}
	return nil
}
