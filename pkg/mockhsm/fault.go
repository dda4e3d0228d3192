package mockhsm

import "fmt"

// Fault is a misbehavior the device applies to every exchange until it is
// cleared with FaultNone.
type Fault uint8

const (
	// FaultNone restores normal behavior.
	FaultNone Fault = iota

	// FaultBadCardCryptogram corrupts the card cryptogram returned by
	// create-session.
	FaultBadCardCryptogram

	// FaultRejectAuthenticate fails authenticate-session with an
	// authentication error.
	FaultRejectAuthenticate

	// FaultWrongResponseType answers session messages with an inner
	// response for a different command.
	FaultWrongResponseType

	// FaultCorruptRMAC flips a bit in the R-MAC of session responses.
	FaultCorruptRMAC

	// FaultDeviceError answers session messages with a plain device error
	// after the command has been verified, so the session stays in step.
	FaultDeviceError
)

// String returns a human-readable name for the fault.
func (f Fault) String() string {
	switch f {
	case FaultNone:
		return "None"
	case FaultBadCardCryptogram:
		return "BadCardCryptogram"
	case FaultRejectAuthenticate:
		return "RejectAuthenticate"
	case FaultWrongResponseType:
		return "WrongResponseType"
	case FaultCorruptRMAC:
		return "CorruptRMAC"
	case FaultDeviceError:
		return "DeviceError"
	default:
		return fmt.Sprintf("Fault(%d)", f)
	}
}

// IsValid returns true if this is a known fault.
func (f Fault) IsValid() bool {
	return f <= FaultDeviceError
}
