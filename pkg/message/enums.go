// Package message implements the YubiHSM2 command and response envelopes.
//
// Every message on the wire is:
//
//	type (1) || length (2, big-endian) || body
//
// Messages that travel inside an SCP03 session (authenticate-session commands
// and session messages in both directions) carry a session envelope body:
//
//	session ID (1) || payload || MAC (8)
//
// The package is independent of payload semantics and of the channel
// cryptography; it only frames bytes. A device error is always reported in a
// plain envelope with type CommandError, so it can be detected without
// decrypting anything.
package message

import "fmt"

// CommandType is the one-byte operation tag of a command. The set is open:
// the framing layer only compares tags, so unknown values are carried through.
type CommandType uint8

// ResponseFlag is OR'ed into the command tag of every successful response.
const ResponseFlag CommandType = 0x80

// Command tags.
const (
	CommandEcho                  CommandType = 0x01
	CommandCreateSession         CommandType = 0x03
	CommandAuthenticateSession   CommandType = 0x04
	CommandSessionMessage        CommandType = 0x05
	CommandDeviceInfo            CommandType = 0x06
	CommandResetDevice           CommandType = 0x08
	CommandCloseSession          CommandType = 0x40
	CommandGetStorageInfo        CommandType = 0x41
	CommandGenerateAsymmetricKey CommandType = 0x46
	CommandListObjects           CommandType = 0x48
	CommandGetObjectInfo         CommandType = 0x4e
	CommandGetPseudoRandom       CommandType = 0x51
	CommandGetPublicKey          CommandType = 0x54
	CommandSignECDSA             CommandType = 0x56
	CommandDeleteObject          CommandType = 0x58
	CommandBlinkDevice           CommandType = 0x6b

	// CommandError is the tag of a device error response.
	CommandError CommandType = 0x7f
)

// Response returns the tag a successful response to c carries.
func (c CommandType) Response() CommandType {
	return c | ResponseFlag
}

// IsResponse returns true if the tag has the response bit set.
func (c CommandType) IsResponse() bool {
	return c&ResponseFlag != 0
}

// String returns a human-readable name for the command type.
func (c CommandType) String() string {
	base := c &^ ResponseFlag
	var name string
	switch base {
	case CommandEcho:
		name = "Echo"
	case CommandCreateSession:
		name = "CreateSession"
	case CommandAuthenticateSession:
		name = "AuthenticateSession"
	case CommandSessionMessage:
		name = "SessionMessage"
	case CommandDeviceInfo:
		name = "DeviceInfo"
	case CommandResetDevice:
		name = "ResetDevice"
	case CommandCloseSession:
		name = "CloseSession"
	case CommandGetStorageInfo:
		name = "GetStorageInfo"
	case CommandGenerateAsymmetricKey:
		name = "GenerateAsymmetricKey"
	case CommandListObjects:
		name = "ListObjects"
	case CommandGetObjectInfo:
		name = "GetObjectInfo"
	case CommandGetPseudoRandom:
		name = "GetPseudoRandom"
	case CommandGetPublicKey:
		name = "GetPublicKey"
	case CommandSignECDSA:
		name = "SignECDSA"
	case CommandDeleteObject:
		name = "DeleteObject"
	case CommandBlinkDevice:
		name = "BlinkDevice"
	case CommandError:
		return "Error"
	default:
		name = fmt.Sprintf("Command(%#02x)", uint8(base))
	}
	if c.IsResponse() {
		return name + "Response"
	}
	return name
}

// ErrorCode is a status code reported by the device in an error response.
type ErrorCode uint8

// Device error codes.
const (
	ErrorCodeOK                      ErrorCode = 0x00
	ErrorCodeInvalidCommand          ErrorCode = 0x01
	ErrorCodeInvalidData             ErrorCode = 0x02
	ErrorCodeInvalidSession          ErrorCode = 0x03
	ErrorCodeAuthenticationFailed    ErrorCode = 0x04
	ErrorCodeSessionsFull            ErrorCode = 0x05
	ErrorCodeSessionFailed           ErrorCode = 0x06
	ErrorCodeStorageFailed           ErrorCode = 0x07
	ErrorCodeWrongLength             ErrorCode = 0x08
	ErrorCodeInsufficientPermissions ErrorCode = 0x09
	ErrorCodeLogFull                 ErrorCode = 0x0a
	ErrorCodeObjectNotFound          ErrorCode = 0x0b
	ErrorCodeInvalidID               ErrorCode = 0x0c
	ErrorCodeSSHCAConstraintViolated ErrorCode = 0x0e
	ErrorCodeInvalidOTP              ErrorCode = 0x0f
	ErrorCodeDemoMode                ErrorCode = 0x10
	ErrorCodeObjectExists            ErrorCode = 0x11
)

// Error implements error so a code can be wrapped and matched with errors.Is.
func (e ErrorCode) Error() string {
	switch e {
	case ErrorCodeOK:
		return "success"
	case ErrorCodeInvalidCommand:
		return "unknown command"
	case ErrorCodeInvalidData:
		return "malformed data for the command"
	case ErrorCodeInvalidSession:
		return "the session has expired or does not exist"
	case ErrorCodeAuthenticationFailed:
		return "wrong authentication key"
	case ErrorCodeSessionsFull:
		return "no more available sessions"
	case ErrorCodeSessionFailed:
		return "session setup failed"
	case ErrorCodeStorageFailed:
		return "storage full"
	case ErrorCodeWrongLength:
		return "wrong data length for the command"
	case ErrorCodeInsufficientPermissions:
		return "insufficient permissions for the command"
	case ErrorCodeLogFull:
		return "the log is full and force audit is enabled"
	case ErrorCodeObjectNotFound:
		return "no object found matching given ID and type"
	case ErrorCodeInvalidID:
		return "invalid ID"
	case ErrorCodeSSHCAConstraintViolated:
		return "constraints in SSH template not met"
	case ErrorCodeInvalidOTP:
		return "OTP decryption failed"
	case ErrorCodeDemoMode:
		return "demo device must be power-cycled"
	case ErrorCodeObjectExists:
		return "unable to overwrite object"
	default:
		return fmt.Sprintf("device error(%#02x)", uint8(e))
	}
}
