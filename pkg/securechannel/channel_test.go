package securechannel

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/backkem/yubihsm/pkg/credentials"
	"github.com/backkem/yubihsm/pkg/crypto"
	"github.com/backkem/yubihsm/pkg/message"
)

var (
	testHost = Challenge{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	testCard = Challenge{0xa1, 0xa2, 0xa3, 0xa4, 0xa5, 0xa6, 0xa7, 0xa8}
)

const testSessionID message.SessionID = 3

func testAuthKey(t *testing.T) credentials.AuthKey {
	t.Helper()
	key, err := credentials.FromPassword([]byte("password"))
	if err != nil {
		t.Fatalf("FromPassword() error: %v", err)
	}
	return key
}

// device mirrors the channel from the HSM side.
type device struct {
	t       *testing.T
	keys    *SessionKeys
	chain   [ChainSize]byte
	counter uint32
}

func newDevice(t *testing.T, key credentials.AuthKey) *device {
	t.Helper()
	keys, err := DeriveSessionKeys(key, testHost, testCard)
	if err != nil {
		t.Fatalf("DeriveSessionKeys() error: %v", err)
	}
	return &device{t: t, keys: keys}
}

func (d *device) cardCryptogram() Cryptogram {
	d.t.Helper()
	cc, err := ComputeCardCryptogram(d.keys, testHost, testCard)
	if err != nil {
		d.t.Fatalf("ComputeCardCryptogram() error: %v", err)
	}
	return cc
}

// authenticate verifies the authenticate-session command.
func (d *device) authenticate(cmd *message.CommandMessage) error {
	d.t.Helper()
	hc, err := ComputeHostCryptogram(d.keys, testHost, testCard)
	if err != nil {
		d.t.Fatalf("ComputeHostCryptogram() error: %v", err)
	}
	if !bytes.Equal(hc[:], cmd.Data) {
		return ErrHostCryptogramMismatch
	}
	mac, err := ComputeMAC(d.keys.MAC(), d.chain, cmd.Type, *cmd.SessionID, cmd.Data)
	if err != nil {
		d.t.Fatalf("ComputeMAC() error: %v", err)
	}
	if err := VerifyMAC(mac, cmd.MAC); err != nil {
		return err
	}
	d.chain = mac
	d.counter = 1
	return nil
}

// serve verifies and decrypts a session message, then answers the inner
// command by echoing its payload.
func (d *device) serve(cmd *message.CommandMessage) *message.ResponseMessage {
	d.t.Helper()
	mac, err := ComputeMAC(d.keys.MAC(), d.chain, cmd.Type, *cmd.SessionID, cmd.Data)
	if err != nil {
		d.t.Fatalf("ComputeMAC() error: %v", err)
	}
	if err := VerifyMAC(mac, cmd.MAC); err != nil {
		d.t.Fatalf("device: command MAC: %v", err)
	}
	d.chain = mac

	iv, err := crypto.CounterIV(d.keys.ENC(), d.counter)
	if err != nil {
		d.t.Fatalf("CounterIV() error: %v", err)
	}
	d.counter++

	padded, err := crypto.DecryptCBC(d.keys.ENC(), iv, cmd.Data)
	if err != nil {
		d.t.Fatalf("DecryptCBC() error: %v", err)
	}
	plain, err := crypto.Unpad80(padded)
	if err != nil {
		d.t.Fatalf("Unpad80() error: %v", err)
	}
	inner, err := message.ParseCommand(plain)
	if err != nil {
		d.t.Fatalf("ParseCommand() error: %v", err)
	}

	b, err := message.NewResponse(inner.Type, inner.Data).Encode()
	if err != nil {
		d.t.Fatalf("Encode() error: %v", err)
	}
	return d.wrap(iv, *cmd.SessionID, b)
}

func (d *device) wrap(iv []byte, id message.SessionID, plain []byte) *message.ResponseMessage {
	d.t.Helper()
	ct, err := crypto.EncryptCBC(d.keys.ENC(), iv, crypto.Pad80(plain))
	if err != nil {
		d.t.Fatalf("EncryptCBC() error: %v", err)
	}
	t := message.CommandSessionMessage.Response()
	rmac, err := ComputeMAC(d.keys.RMAC(), d.chain, t, id, ct)
	if err != nil {
		d.t.Fatalf("ComputeMAC() error: %v", err)
	}
	return &message.ResponseMessage{
		Type:      t,
		SessionID: &id,
		Data:      ct,
		MAC:       rmac[:message.MACSize],
	}
}

// newActiveChannel runs the full handshake against a device.
func newActiveChannel(t *testing.T, opts ...Option) (*Channel, *device) {
	t.Helper()
	key := testAuthKey(t)
	dev := newDevice(t, key)

	ch, err := New(testSessionID, key, testHost, testCard, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := VerifyCryptogram(ch.CardCryptogram(), dev.cardCryptogram()); err != nil {
		t.Fatalf("VerifyCryptogram() error: %v", err)
	}

	auth, err := ch.AuthenticateSession()
	if err != nil {
		t.Fatalf("AuthenticateSession() error: %v", err)
	}
	if err := dev.authenticate(auth); err != nil {
		t.Fatalf("device rejected authentication: %v", err)
	}
	if err := ch.FinishAuthenticateSession(message.NewResponse(message.CommandAuthenticateSession, nil)); err != nil {
		t.Fatalf("FinishAuthenticateSession() error: %v", err)
	}
	return ch, dev
}

func TestChannelRoundTrip(t *testing.T) {
	ch, dev := newActiveChannel(t)

	if ch.State() != StateActive {
		t.Fatalf("State() = %v, want %v", ch.State(), StateActive)
	}
	if ch.Counter() != 1 {
		t.Errorf("Counter() = %d, want 1", ch.Counter())
	}
	if ch.ID() != testSessionID {
		t.Errorf("ID() = %d, want %d", ch.ID(), testSessionID)
	}

	for _, payload := range [][]byte{
		{},
		[]byte("hello"),
		bytes.Repeat([]byte{0x5a}, 13),
		bytes.Repeat([]byte{0xa5}, 64),
	} {
		cmd := message.NewCommand(message.CommandEcho, payload)
		wrapped, err := ch.EncryptCommand(cmd)
		if err != nil {
			t.Fatalf("EncryptCommand() error: %v", err)
		}
		if wrapped.Type != message.CommandSessionMessage {
			t.Errorf("Type = %v, want %v", wrapped.Type, message.CommandSessionMessage)
		}
		if wrapped.UUID != cmd.UUID {
			t.Errorf("UUID not carried through")
		}
		if len(wrapped.Data)%crypto.AESBlockSize != 0 {
			t.Errorf("ciphertext length %d not block aligned", len(wrapped.Data))
		}

		rsp, err := ch.DecryptResponse(dev.serve(wrapped))
		if err != nil {
			t.Fatalf("DecryptResponse() error: %v", err)
		}
		if rsp.Type != message.CommandEcho.Response() {
			t.Errorf("inner Type = %v, want %v", rsp.Type, message.CommandEcho.Response())
		}
		if diff := cmp.Diff(payload, rsp.Data, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("echo mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestChannelWrongKey(t *testing.T) {
	key := testAuthKey(t)
	other, err := credentials.FromPassword([]byte("not the password"))
	if err != nil {
		t.Fatalf("FromPassword() error: %v", err)
	}

	// The device holds key, the host holds other.
	dev := newDevice(t, key)
	ch, err := New(testSessionID, other, testHost, testCard)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if ch.CardCryptogram() == dev.cardCryptogram() {
		t.Fatal("different static keys produced the same card cryptogram")
	}
	if err := VerifyCryptogram(ch.CardCryptogram(), dev.cardCryptogram()); !errors.Is(err, ErrCardCryptogramMismatch) {
		t.Errorf("VerifyCryptogram() error = %v, want %v", err, ErrCardCryptogramMismatch)
	}
}

func TestChannelChallengesBindCryptogram(t *testing.T) {
	key := testAuthKey(t)
	a, err := New(testSessionID, key, testHost, testCard)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	b, err := New(testSessionID, key, testCard, testHost)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if a.CardCryptogram() == b.CardCryptogram() {
		t.Error("swapped challenges produced the same card cryptogram")
	}
}

func TestChannelTamperedResponse(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(r *message.ResponseMessage)
		want   error
	}{
		{
			name:   "Flip ciphertext bit",
			tamper: func(r *message.ResponseMessage) { r.Data[0] ^= 0x01 },
			want:   ErrMACMismatch,
		},
		{
			name:   "Flip last ciphertext bit",
			tamper: func(r *message.ResponseMessage) { r.Data[len(r.Data)-1] ^= 0x80 },
			want:   ErrMACMismatch,
		},
		{
			name:   "Flip MAC bit",
			tamper: func(r *message.ResponseMessage) { r.MAC[7] ^= 0x01 },
			want:   ErrMACMismatch,
		},
		{
			name:   "Truncated MAC",
			tamper: func(r *message.ResponseMessage) { r.MAC = r.MAC[:4] },
			want:   ErrMACMismatch,
		},
		{
			name: "Other session",
			tamper: func(r *message.ResponseMessage) {
				id := testSessionID + 1
				r.SessionID = &id
			},
			want: ErrUnexpectedResponse,
		},
		{
			name:   "Wrong type",
			tamper: func(r *message.ResponseMessage) { r.Type = message.CommandEcho.Response() },
			want:   ErrUnexpectedResponse,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ch, dev := newActiveChannel(t)
			wrapped, err := ch.EncryptCommand(message.NewCommand(message.CommandEcho, []byte("ping")))
			if err != nil {
				t.Fatalf("EncryptCommand() error: %v", err)
			}
			rsp := dev.serve(wrapped)
			tc.tamper(rsp)

			if _, err := ch.DecryptResponse(rsp); !errors.Is(err, tc.want) {
				t.Fatalf("DecryptResponse() error = %v, want %v", err, tc.want)
			}
			if ch.State() != StateTerminated {
				t.Errorf("State() = %v, want %v", ch.State(), StateTerminated)
			}
			if !ch.keys.IsZeroized() {
				t.Error("keys not zeroized after verification failure")
			}
			if _, err := ch.EncryptCommand(message.NewCommand(message.CommandEcho, nil)); !errors.Is(err, ErrChannelTerminated) {
				t.Errorf("EncryptCommand() after failure error = %v, want %v", err, ErrChannelTerminated)
			}
		})
	}
}

func TestChannelReplayedResponse(t *testing.T) {
	ch, dev := newActiveChannel(t)

	first, err := ch.EncryptCommand(message.NewCommand(message.CommandEcho, []byte("one")))
	if err != nil {
		t.Fatalf("EncryptCommand() error: %v", err)
	}
	old := dev.serve(first)
	if _, err := ch.DecryptResponse(old); err != nil {
		t.Fatalf("DecryptResponse() error: %v", err)
	}

	second, err := ch.EncryptCommand(message.NewCommand(message.CommandEcho, []byte("two")))
	if err != nil {
		t.Fatalf("EncryptCommand() error: %v", err)
	}
	_ = dev.serve(second)

	// The first response is MACed over an older chaining value.
	if _, err := ch.DecryptResponse(old); !errors.Is(err, ErrMACMismatch) {
		t.Errorf("DecryptResponse(replay) error = %v, want %v", err, ErrMACMismatch)
	}
}

func TestChannelCounterMonotonic(t *testing.T) {
	ch, dev := newActiveChannel(t)

	var chains [][ChainSize]byte
	for i := 0; i < 20; i++ {
		before := ch.Counter()
		wrapped, err := ch.EncryptCommand(message.NewCommand(message.CommandEcho, []byte{byte(i)}))
		if err != nil {
			t.Fatalf("EncryptCommand(%d) error: %v", i, err)
		}
		if got := ch.Counter(); got != before+1 {
			t.Fatalf("Counter() = %d after command %d, want %d", got, i, before+1)
		}
		for _, c := range chains {
			if c == ch.chain {
				t.Fatalf("chaining value repeated at command %d", i)
			}
		}
		chains = append(chains, ch.chain)

		if _, err := ch.DecryptResponse(dev.serve(wrapped)); err != nil {
			t.Fatalf("DecryptResponse(%d) error: %v", i, err)
		}
	}
	if ch.Counter() != 21 {
		t.Errorf("Counter() = %d, want 21", ch.Counter())
	}
}

func TestChannelIdenticalCommandsDiffer(t *testing.T) {
	ch, dev := newActiveChannel(t)

	var prev *message.CommandMessage
	for i := 0; i < 2; i++ {
		wrapped, err := ch.EncryptCommand(message.NewCommand(message.CommandEcho, []byte("same")))
		if err != nil {
			t.Fatalf("EncryptCommand() error: %v", err)
		}
		if prev != nil {
			if bytes.Equal(prev.Data, wrapped.Data) {
				t.Error("identical commands produced identical ciphertext")
			}
			if bytes.Equal(prev.MAC, wrapped.MAC) {
				t.Error("identical commands produced identical MAC")
			}
		}
		prev = wrapped
		if _, err := ch.DecryptResponse(dev.serve(wrapped)); err != nil {
			t.Fatalf("DecryptResponse() error: %v", err)
		}
	}
}

func TestChannelMessageLimit(t *testing.T) {
	ch, dev := newActiveChannel(t, WithMessageLimit(3))

	for i := 0; i < 2; i++ {
		if ch.Exhausted() {
			t.Fatalf("Exhausted() = true after %d commands", i)
		}
		wrapped, err := ch.EncryptCommand(message.NewCommand(message.CommandEcho, nil))
		if err != nil {
			t.Fatalf("EncryptCommand(%d) error: %v", i, err)
		}
		if _, err := ch.DecryptResponse(dev.serve(wrapped)); err != nil {
			t.Fatalf("DecryptResponse(%d) error: %v", i, err)
		}
	}
	if !ch.Exhausted() {
		t.Error("Exhausted() = false at the limit")
	}
	if !ch.CanClose() {
		t.Fatal("CanClose() = false with the last message left")
	}

	wrapped, err := ch.EncryptCommand(message.NewCommand(message.CommandCloseSession, nil))
	if err != nil {
		t.Fatalf("EncryptCommand(CloseSession) error: %v", err)
	}
	if _, err := ch.DecryptResponse(dev.serve(wrapped)); err != nil {
		t.Fatalf("DecryptResponse(CloseSession) error: %v", err)
	}
	if ch.CanClose() {
		t.Error("CanClose() = true after the last message")
	}

	if _, err := ch.EncryptCommand(message.NewCommand(message.CommandCloseSession, nil)); !errors.Is(err, ErrCounterExhausted) {
		t.Fatalf("EncryptCommand() error = %v, want %v", err, ErrCounterExhausted)
	}
	if ch.State() != StateTerminated {
		t.Errorf("State() = %v, want %v", ch.State(), StateTerminated)
	}
}

func TestChannelMessageLimit_ExhaustedRejectsCommands(t *testing.T) {
	ch, dev := newActiveChannel(t, WithMessageLimit(2))

	wrapped, err := ch.EncryptCommand(message.NewCommand(message.CommandEcho, nil))
	if err != nil {
		t.Fatalf("EncryptCommand() error: %v", err)
	}
	if _, err := ch.DecryptResponse(dev.serve(wrapped)); err != nil {
		t.Fatalf("DecryptResponse() error: %v", err)
	}

	if _, err := ch.EncryptCommand(message.NewCommand(message.CommandEcho, nil)); !errors.Is(err, ErrCounterExhausted) {
		t.Fatalf("EncryptCommand() error = %v, want %v", err, ErrCounterExhausted)
	}
	if ch.State() != StateTerminated {
		t.Errorf("State() = %v, want %v", ch.State(), StateTerminated)
	}
	if ch.CanClose() {
		t.Error("CanClose() = true after Terminate")
	}
}

func TestChannelMessageLimit_Minimum(t *testing.T) {
	tests := []struct {
		limit uint32
		want  uint32
	}{
		{0, DefaultMessageLimit},
		{1, 2},
		{2, 2},
		{500, 500},
	}
	for _, tc := range tests {
		ch, _ := newActiveChannel(t, WithMessageLimit(tc.limit))
		if ch.limit != tc.want {
			t.Errorf("WithMessageLimit(%d): limit = %d, want %d", tc.limit, ch.limit, tc.want)
		}
		if ch.Exhausted() {
			t.Errorf("WithMessageLimit(%d): Exhausted() = true before any command", tc.limit)
		}
	}
}

func TestChannelStateErrors(t *testing.T) {
	key := testAuthKey(t)
	ch, err := New(testSessionID, key, testHost, testCard)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if _, err := ch.EncryptCommand(message.NewCommand(message.CommandEcho, nil)); !errors.Is(err, ErrInvalidState) {
		t.Errorf("EncryptCommand() in Created error = %v, want %v", err, ErrInvalidState)
	}
	if err := ch.FinishAuthenticateSession(message.NewResponse(message.CommandAuthenticateSession, nil)); !errors.Is(err, ErrInvalidState) {
		t.Errorf("FinishAuthenticateSession() in Created error = %v, want %v", err, ErrInvalidState)
	}
	if _, err := ch.AuthenticateSession(); err != nil {
		t.Fatalf("AuthenticateSession() error: %v", err)
	}
	if _, err := ch.AuthenticateSession(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second AuthenticateSession() error = %v, want %v", err, ErrInvalidState)
	}
	if _, err := ch.DecryptResponse(&message.ResponseMessage{}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("DecryptResponse() in Authenticating error = %v, want %v", err, ErrInvalidState)
	}
}

func TestChannelDecryptWithoutCommand(t *testing.T) {
	ch, _ := newActiveChannel(t)
	if _, err := ch.DecryptResponse(&message.ResponseMessage{}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("DecryptResponse() error = %v, want %v", err, ErrInvalidState)
	}
	if ch.State() != StateActive {
		t.Errorf("State() = %v, want %v", ch.State(), StateActive)
	}
}

func TestFinishAuthenticateSessionRejected(t *testing.T) {
	tests := []struct {
		name string
		rsp  *message.ResponseMessage
	}{
		{"Device error", message.NewErrorResponse(message.ErrorCodeAuthenticationFailed)},
		{"Wrong type", message.NewResponse(message.CommandCreateSession, nil)},
		{"Nil", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ch, err := New(testSessionID, testAuthKey(t), testHost, testCard)
			if err != nil {
				t.Fatalf("New() error: %v", err)
			}
			if _, err := ch.AuthenticateSession(); err != nil {
				t.Fatalf("AuthenticateSession() error: %v", err)
			}

			err = ch.FinishAuthenticateSession(tc.rsp)
			if !errors.Is(err, ErrAuthenticationRejected) {
				t.Fatalf("FinishAuthenticateSession() error = %v, want %v", err, ErrAuthenticationRejected)
			}
			if ch.State() != StateTerminated {
				t.Errorf("State() = %v, want %v", ch.State(), StateTerminated)
			}
		})
	}
}

func TestFinishAuthenticateSessionCode(t *testing.T) {
	ch, err := New(testSessionID, testAuthKey(t), testHost, testCard)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := ch.AuthenticateSession(); err != nil {
		t.Fatalf("AuthenticateSession() error: %v", err)
	}

	err = ch.FinishAuthenticateSession(message.NewErrorResponse(message.ErrorCodeAuthenticationFailed))
	var code message.ErrorCode
	if !errors.As(err, &code) || code != message.ErrorCodeAuthenticationFailed {
		t.Errorf("errors.As(ErrorCode) = %v, want %v", code, message.ErrorCodeAuthenticationFailed)
	}
}

func TestChannelTerminate(t *testing.T) {
	ch, _ := newActiveChannel(t)

	ch.Terminate()
	ch.Terminate()

	if ch.State() != StateTerminated {
		t.Errorf("State() = %v, want %v", ch.State(), StateTerminated)
	}
	if ch.Counter() != 0 {
		t.Errorf("Counter() = %d, want 0", ch.Counter())
	}
	if ch.chain != ([ChainSize]byte{}) {
		t.Error("chaining value not zeroized")
	}
	if !ch.keys.IsZeroized() {
		t.Error("keys not zeroized")
	}
	if _, err := ch.AuthenticateSession(); !errors.Is(err, ErrChannelTerminated) {
		t.Errorf("AuthenticateSession() error = %v, want %v", err, ErrChannelTerminated)
	}
	if _, err := ch.DecryptResponse(&message.ResponseMessage{}); !errors.Is(err, ErrChannelTerminated) {
		t.Errorf("DecryptResponse() error = %v, want %v", err, ErrChannelTerminated)
	}
}

func TestAuthenticateSessionCommand(t *testing.T) {
	key := testAuthKey(t)
	ch, err := New(testSessionID, key, testHost, testCard)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	cmd, err := ch.AuthenticateSession()
	if err != nil {
		t.Fatalf("AuthenticateSession() error: %v", err)
	}

	b, err := cmd.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	// type || len(1+8+8) || sid || host cryptogram || mac
	if len(b) != message.HeaderSize+1+CryptogramSize+message.MACSize {
		t.Fatalf("len = %d", len(b))
	}
	if b[0] != 0x04 || b[1] != 0x00 || b[2] != 0x11 || b[3] != byte(testSessionID) {
		t.Errorf("header = %x", b[:4])
	}

	// The MAC covers the zero chain, the header and the cryptogram.
	keys, err := DeriveSessionKeys(key, testHost, testCard)
	if err != nil {
		t.Fatalf("DeriveSessionKeys() error: %v", err)
	}
	want, err := crypto.CMAC(keys.MAC(), make([]byte, ChainSize), b[:4], cmd.Data)
	if err != nil {
		t.Fatalf("CMAC() error: %v", err)
	}
	if !bytes.Equal(cmd.MAC, want[:message.MACSize]) {
		t.Errorf("MAC = %x, want %x", cmd.MAC, want[:message.MACSize])
	}
}
