// Package session drives a YubiHSM2 secure session over a transport
// adapter.
//
// A Connection acquires an adapter, runs create-session and
// authenticate-session, and then sends commands through the secure
// channel. It fails closed: a transport error, a malformed or
// unexpected response, or a MAC failure terminates the channel, and the
// adapter is kept only if its own health check still passes. Device error
// statuses leave the channel intact.
//
// A Connection is not safe for concurrent use; see hsm.Client for a
// synchronized wrapper.
package session

import (
	"context"
	"encoding/binary"

	"github.com/pion/logging"

	"github.com/backkem/yubihsm/pkg/command"
	"github.com/backkem/yubihsm/pkg/credentials"
	"github.com/backkem/yubihsm/pkg/message"
	"github.com/backkem/yubihsm/pkg/securechannel"
	"github.com/backkem/yubihsm/pkg/transport"
)

// createSessionResponseSize is session id(1) || card challenge(8) ||
// card cryptogram(8).
const createSessionResponseSize = message.SessionIDSize + securechannel.ChallengeSize + securechannel.CryptogramSize

// Config configures a Connection.
type Config struct {
	// Opener acquires the transport adapter. Required.
	Opener transport.Opener

	// MessageLimit is the number of session messages a channel sends,
	// the closing CloseSession included, before the connection must be
	// reopened. Zero selects securechannel.DefaultMessageLimit.
	MessageLimit uint32

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Connection is one secure session with a device.
type Connection struct {
	config Config
	st     connState
	log    logging.LeveledLogger
}

// NewConnection creates a closed connection.
func NewConnection(config Config) *Connection {
	c := &Connection{
		config: config,
		st:     closedState{},
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("session")
	}
	return c
}

// State returns the current connection state.
func (c *Connection) State() State {
	return c.st.state()
}

// IsOpen reports whether the connection holds an adapter and an
// authenticated channel with messages left. It does not contact the
// device.
func (c *Connection) IsOpen() bool {
	st, ok := c.st.(authenticatedState)
	return ok && !st.channel.Exhausted()
}

// ID returns the device-assigned session ID while a channel exists.
func (c *Connection) ID() (message.SessionID, bool) {
	switch st := c.st.(type) {
	case channelEstablishedState:
		return st.channel.ID(), true
	case authenticatedState:
		return st.channel.ID(), true
	default:
		return 0, false
	}
}

// Open establishes an authenticated session. The adapter is opened and
// health-checked only if the connection does not already hold one. An
// existing authenticated session is ended on the device with CloseSession,
// best effort, and its channel discarded.
//
// On failure the channel and its keys are destroyed; the adapter is kept
// only if it still reports healthy.
func (c *Connection) Open(ctx context.Context, creds *credentials.Credentials) error {
	if creds == nil {
		return newError(KindCreateFailed, ErrNoCredentials)
	}

	c.closeSession(ctx)
	adapter := c.dropChannel()
	if adapter == nil {
		var err error
		if adapter, err = c.openAdapter(ctx); err != nil {
			c.st = closedState{}
			return err
		}
	}
	c.st = transportOpenState{adapter: adapter}

	ch, err := c.handshake(ctx, adapter, creds)
	if err != nil {
		if ch != nil {
			ch.Terminate()
		}
		c.recycle(adapter)
		if c.log != nil {
			c.log.Warnf("open failed: %v", err)
		}
		return err
	}

	c.st = authenticatedState{adapter: adapter, channel: ch}
	if c.log != nil {
		c.log.Infof("session %d authenticated with key %d", ch.ID(), creds.AuthKeyID)
	}
	return nil
}

func (c *Connection) openAdapter(ctx context.Context) (transport.Adapter, error) {
	if c.config.Opener == nil {
		return nil, newError(KindCreateFailed, ErrNoOpener)
	}
	adapter, err := c.config.Opener.Open(ctx)
	if err != nil {
		return nil, newError(KindCreateFailed, err)
	}
	if !adapter.IsOpen() {
		adapter.Close()
		return nil, newError(KindCreateFailed, ErrAdapterUnhealthy)
	}
	return adapter, nil
}

// handshake runs create-session and authenticate-session. The returned
// channel is non-nil whenever one was created, even on error, so the
// caller can terminate it.
func (c *Connection) handshake(ctx context.Context, adapter transport.Adapter, creds *credentials.Credentials) (*securechannel.Channel, error) {
	host, err := securechannel.RandomChallenge()
	if err != nil {
		return nil, newError(KindCreateFailed, err)
	}

	data := make([]byte, 0, 2+securechannel.ChallengeSize)
	data = binary.BigEndian.AppendUint16(data, uint16(creds.AuthKeyID))
	data = append(data, host[:]...)
	create := message.NewCommand(message.CommandCreateSession, data)

	rsp, err := c.roundTrip(ctx, adapter, create)
	if err != nil {
		return nil, err
	}
	if rsp.IsErr() {
		return nil, newError(KindCreateFailed, rsp.Code)
	}
	if rsp.Type != message.CommandCreateSession.Response() {
		return nil, newError(KindProtocol, ErrTypeMismatch)
	}
	if len(rsp.Data) != createSessionResponseSize {
		return nil, newError(KindProtocol, ErrMalformedCreate)
	}

	id, err := message.NewSessionID(rsp.Data[0])
	if err != nil {
		return nil, newError(KindProtocol, err)
	}
	var card securechannel.Challenge
	var received securechannel.Cryptogram
	copy(card[:], rsp.Data[1:1+securechannel.ChallengeSize])
	copy(received[:], rsp.Data[1+securechannel.ChallengeSize:])

	ch, err := securechannel.New(id, creds.AuthKey, host, card,
		securechannel.WithMessageLimit(c.config.MessageLimit))
	if err != nil {
		return nil, newError(KindCreateFailed, err)
	}
	if err := securechannel.VerifyCryptogram(ch.CardCryptogram(), received); err != nil {
		return ch, newError(KindAuthFailed, err)
	}
	c.st = channelEstablishedState{adapter: adapter, channel: ch}
	if c.log != nil {
		c.log.Debugf("session %d: card cryptogram verified", id)
	}

	auth, err := ch.AuthenticateSession()
	if err != nil {
		return ch, newError(KindAuthFailed, err)
	}
	rsp, err = c.roundTrip(ctx, adapter, auth)
	if err != nil {
		return ch, err
	}
	if err := ch.FinishAuthenticateSession(rsp); err != nil {
		return ch, newError(KindAuthFailed, err)
	}
	return ch, nil
}

// SendMessage encrypts cmd, sends it and returns the decrypted response.
//
// Transport errors, malformed responses, MAC failures and responses to a
// different command terminate the channel. A device error status, inside
// or outside the session envelope, is returned as a KindResponse error and
// keeps the channel. Once the message limit is reached the session is
// closed on the device and the command fails with a KindProtocol error
// wrapping securechannel.ErrCounterExhausted.
func (c *Connection) SendMessage(ctx context.Context, cmd *message.CommandMessage) (*message.ResponseMessage, error) {
	st, ok := c.st.(authenticatedState)
	if !ok {
		return nil, newError(KindCreateFailed, ErrNoChannel)
	}
	if cmd.Type != message.CommandCloseSession && st.channel.Exhausted() {
		c.closeSession(ctx)
		if st, ok := c.st.(authenticatedState); ok {
			c.teardown(st)
		}
		return nil, newError(KindProtocol, securechannel.ErrCounterExhausted)
	}

	wrapped, err := st.channel.EncryptCommand(cmd)
	if err != nil {
		if st.channel.State() != securechannel.StateTerminated {
			// Rejected before anything was sent.
			return nil, err
		}
		c.teardown(st)
		return nil, newError(KindProtocol, err)
	}

	if c.log != nil {
		c.log.Debugf("session %d: uuid=%s %s counter=%d", st.channel.ID(), cmd.UUID, cmd.Type, st.channel.Counter()-1)
	}

	rsp, err := c.roundTrip(ctx, st.adapter, wrapped)
	if err != nil {
		c.teardown(st)
		return nil, err
	}
	if rsp.IsErr() {
		if c.log != nil {
			c.log.Warnf("session %d: uuid=%s device error: %v", st.channel.ID(), cmd.UUID, rsp.Code)
		}
		return nil, newError(KindResponse, rsp.Code)
	}

	inner, err := st.channel.DecryptResponse(rsp)
	if err != nil {
		c.teardown(st)
		return nil, newError(KindProtocol, err)
	}
	if inner.IsErr() {
		if c.log != nil {
			c.log.Warnf("session %d: uuid=%s %s failed: %v", st.channel.ID(), cmd.UUID, cmd.Type, inner.Code)
		}
		return nil, newError(KindResponse, inner.Code)
	}
	if t, _ := inner.Command(); t != cmd.Type {
		c.teardown(st)
		return nil, newError(KindProtocol, ErrTypeMismatch)
	}
	return inner, nil
}

// roundTrip sends one envelope and parses the reply. Errors are typed:
// adapter failures are KindTransport and undecodable replies KindProtocol.
func (c *Connection) roundTrip(ctx context.Context, adapter transport.Adapter, cmd *message.CommandMessage) (*message.ResponseMessage, error) {
	b, err := cmd.Encode()
	if err != nil {
		return nil, newError(KindProtocol, err)
	}
	raw, err := adapter.SendMessage(ctx, cmd.UUID, b)
	if err != nil {
		if c.log != nil {
			c.log.Warnf("uuid=%s transport: %v", cmd.UUID, err)
		}
		return nil, newError(KindTransport, err)
	}
	rsp, err := message.ParseResponse(raw)
	if err != nil {
		return nil, newError(KindProtocol, err)
	}
	rsp.UUID = cmd.UUID
	return rsp, nil
}

// Close ends the session on the device if one is authenticated, then
// destroys the channel and closes the adapter. Failing to end the session
// on the device is not an error.
func (c *Connection) Close(ctx context.Context) error {
	c.closeSession(ctx)

	adapter := c.dropChannel()
	c.st = closedState{}
	if adapter == nil {
		return nil
	}
	return adapter.Close()
}

// closeSession sends CloseSession if the channel is authenticated and can
// still send it. Failures are logged and otherwise ignored.
func (c *Connection) closeSession(ctx context.Context) {
	st, ok := c.st.(authenticatedState)
	if !ok || !st.channel.CanClose() {
		return
	}
	msg, err := command.Message(command.CloseSession{})
	if err != nil {
		return
	}
	if _, err := c.SendMessage(ctx, msg); err != nil && c.log != nil {
		c.log.Debugf("session %d: close-session: %v", st.channel.ID(), err)
	}
}

// dropChannel terminates any channel and returns the adapter, which may
// be nil. It leaves the connection in TransportOpen or Closed.
func (c *Connection) dropChannel() transport.Adapter {
	switch st := c.st.(type) {
	case transportOpenState:
		return st.adapter
	case channelEstablishedState:
		st.channel.Terminate()
		c.st = transportOpenState{adapter: st.adapter}
		return st.adapter
	case authenticatedState:
		st.channel.Terminate()
		c.st = transportOpenState{adapter: st.adapter}
		return st.adapter
	default:
		return nil
	}
}

// teardown terminates the channel after a failure and recycles the
// adapter.
func (c *Connection) teardown(st authenticatedState) {
	st.channel.Terminate()
	if c.log != nil {
		c.log.Warnf("session %d terminated", st.channel.ID())
	}
	c.recycle(st.adapter)
}

// recycle keeps the adapter if it still reports healthy and closes it
// otherwise.
func (c *Connection) recycle(adapter transport.Adapter) {
	if adapter.IsOpen() {
		c.st = transportOpenState{adapter: adapter}
		return
	}
	if c.log != nil {
		c.log.Warnf("adapter unhealthy, dropping it")
	}
	adapter.Close()
	c.st = closedState{}
}
