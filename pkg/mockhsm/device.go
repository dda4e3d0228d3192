// Package mockhsm is an in-process YubiHSM2 for tests.
//
// A Device implements the device side of create-session,
// authenticate-session and session messages with the same primitives the
// host uses, holds up to 16 sessions, and answers a small command set
// against an in-memory object store. It is reachable over HTTP as a
// yubihsm-connector (ServeHTTP) or over a transport.Pipe (ServeConn).
//
// Faults can be injected with SetFault to exercise the host's failure
// handling.
package mockhsm

import (
	"crypto/rand"
	"errors"
	"io"
	"sync"

	"github.com/pion/logging"

	"github.com/backkem/yubihsm/pkg/command"
	"github.com/backkem/yubihsm/pkg/credentials"
	"github.com/backkem/yubihsm/pkg/message"
	"github.com/backkem/yubihsm/pkg/object"
)

// Device defaults.
const (
	DefaultSerial   uint32 = 12345678
	DefaultLogTotal uint8  = 62
)

// Config configures a Device.
type Config struct {
	// Serial is reported by device-info. Zero selects DefaultSerial.
	Serial uint32

	// Rand supplies card challenges. Nil selects crypto/rand.
	Rand io.Reader

	// SkipDefaultKey leaves the key store empty instead of installing the
	// factory default authentication key.
	SkipDefaultKey bool

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Device is a simulated YubiHSM2. It is safe for concurrent use.
type Device struct {
	serial uint32
	rand   io.Reader
	log    logging.LeveledLogger

	mu        sync.Mutex
	sessions  [message.MaxSessions]*session
	authKeys  map[object.ID]credentials.AuthKey
	objects   map[command.ObjectRef]*command.ObjectInfo
	sequences map[command.ObjectRef]uint8
	fault     Fault
	connected bool
	handled   int
}

// New creates a device. Unless config.SkipDefaultKey is set it holds the
// factory default authentication key.
func New(config Config) *Device {
	d := &Device{
		serial:    config.Serial,
		rand:      config.Rand,
		authKeys:  make(map[object.ID]credentials.AuthKey),
		objects:   make(map[command.ObjectRef]*command.ObjectInfo),
		sequences: make(map[command.ObjectRef]uint8),
		connected: true,
	}
	if d.serial == 0 {
		d.serial = DefaultSerial
	}
	if d.rand == nil {
		d.rand = rand.Reader
	}
	if config.LoggerFactory != nil {
		d.log = config.LoggerFactory.NewLogger("mockhsm")
	}

	if !config.SkipDefaultKey {
		def := credentials.Default()
		// The store is empty, so this cannot fail.
		_ = d.AddAuthKey(def.AuthKeyID, def.AuthKey, object.AllDomains, ^object.Capability(0))
	}
	return d
}

// AddAuthKey installs an authentication key object.
func (d *Device) AddAuthKey(id object.ID, key credentials.AuthKey, domains object.Domains, caps object.Capability) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ref := command.ObjectRef{ID: id, Type: object.TypeAuthenticationKey}
	if _, ok := d.objects[ref]; ok {
		return ErrKeyExists
	}
	d.authKeys[id] = key
	d.objects[ref] = &command.ObjectInfo{
		Capabilities:          caps,
		ID:                    id,
		Length:                credentials.KeySize * 2,
		Domains:               domains,
		Type:                  object.TypeAuthenticationKey,
		Algorithm:             object.AlgorithmAES128YubicoAuthentication,
		Sequence:              d.sequences[ref],
		Origin:                object.OriginImported,
		DelegatedCapabilities: caps,
	}
	return nil
}

// SetFault makes the device misbehave until it is called with FaultNone.
func (d *Device) SetFault(f Fault) error {
	if !f.IsValid() {
		return ErrInvalidFault
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fault = f
	return nil
}

// SetConnected models plugging the device into or out of its connector.
// A disconnected device reports an unhealthy status and refuses messages.
func (d *Device) SetConnected(connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = connected
	if !connected {
		d.closeAll()
	}
}

// Connected reports whether the device is plugged in.
func (d *Device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Serial returns the serial number reported by device-info.
func (d *Device) Serial() uint32 {
	return d.serial
}

// Sessions returns the number of open sessions, authenticated or not.
func (d *Device) Sessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.sessions {
		if s != nil {
			n++
		}
	}
	return n
}

// Handled returns the number of commands the device processed inside
// sessions.
func (d *Device) Handled() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handled
}

// Object returns a copy of the metadata of an object.
func (d *Device) Object(id object.ID, t object.Type) (command.ObjectInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, ok := d.objects[command.ObjectRef{ID: id, Type: t}]
	if !ok {
		return command.ObjectInfo{}, false
	}
	return *info, true
}

// Handle processes one encoded command and returns the encoded response.
// Malformed input yields a device error response, never a Go error.
func (d *Device) Handle(b []byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	rsp := d.dispatch(b)
	out, err := rsp.Encode()
	if err != nil {
		if d.log != nil {
			d.log.Errorf("encode response: %v", err)
		}
		out, _ = message.NewErrorResponse(message.ErrorCodeInvalidData).Encode()
	}
	return out
}

func (d *Device) dispatch(b []byte) *message.ResponseMessage {
	cmd, err := message.ParseCommand(b)
	if err != nil {
		if d.log != nil {
			d.log.Warnf("malformed command: %v", err)
		}
		if errors.Is(err, message.ErrLengthMismatch) {
			return message.NewErrorResponse(message.ErrorCodeWrongLength)
		}
		return message.NewErrorResponse(message.ErrorCodeInvalidData)
	}

	if d.log != nil {
		d.log.Debugf("received %s (%d bytes)", cmd.Type, len(cmd.Data))
	}

	switch cmd.Type {
	case message.CommandCreateSession:
		return d.createSession(cmd)
	case message.CommandAuthenticateSession:
		return d.authenticateSession(cmd)
	case message.CommandSessionMessage:
		return d.sessionMessage(cmd)
	default:
		return message.NewErrorResponse(message.ErrorCodeInvalidCommand)
	}
}

func (d *Device) closeAll() {
	for i, s := range d.sessions {
		if s != nil {
			s.close()
			d.sessions[i] = nil
		}
	}
}
