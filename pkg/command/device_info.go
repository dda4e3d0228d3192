package command

import (
	"encoding/binary"
	"fmt"

	"github.com/backkem/yubihsm/pkg/message"
	"github.com/backkem/yubihsm/pkg/object"
)

// DeviceInfo requests the firmware version, serial number and supported
// algorithms.
type DeviceInfo struct{}

// CommandType implements Command.
func (DeviceInfo) CommandType() message.CommandType { return message.CommandDeviceInfo }

// MarshalBinary returns an empty payload.
func (DeviceInfo) MarshalBinary() ([]byte, error) { return nil, nil }

// UnmarshalBinary accepts only an empty payload.
func (*DeviceInfo) UnmarshalBinary(b []byte) error {
	if len(b) != 0 {
		return ErrInvalidLength
	}
	return nil
}

// deviceInfoFixedSize is version(3) || serial(4) || log total(1) || log used(1).
const deviceInfoFixedSize = 9

// DeviceInfoResponse describes the device.
type DeviceInfoResponse struct {
	Major, Minor, Patch uint8
	Serial              uint32
	LogTotal            uint8
	LogUsed             uint8
	Algorithms          []object.Algorithm
}

// Version returns the firmware version as "major.minor.patch".
func (r *DeviceInfoResponse) Version() string {
	return fmt.Sprintf("%d.%d.%d", r.Major, r.Minor, r.Patch)
}

// MarshalBinary encodes the response.
func (r *DeviceInfoResponse) MarshalBinary() ([]byte, error) {
	b := make([]byte, deviceInfoFixedSize, deviceInfoFixedSize+len(r.Algorithms))
	b[0], b[1], b[2] = r.Major, r.Minor, r.Patch
	binary.BigEndian.PutUint32(b[3:7], r.Serial)
	b[7], b[8] = r.LogTotal, r.LogUsed
	for _, a := range r.Algorithms {
		b = append(b, byte(a))
	}
	return b, nil
}

// UnmarshalBinary decodes the response.
func (r *DeviceInfoResponse) UnmarshalBinary(b []byte) error {
	if len(b) < deviceInfoFixedSize {
		return ErrInvalidLength
	}
	r.Major, r.Minor, r.Patch = b[0], b[1], b[2]
	r.Serial = binary.BigEndian.Uint32(b[3:7])
	r.LogTotal, r.LogUsed = b[7], b[8]
	r.Algorithms = make([]object.Algorithm, 0, len(b)-deviceInfoFixedSize)
	for _, a := range b[deviceInfoFixedSize:] {
		r.Algorithms = append(r.Algorithms, object.Algorithm(a))
	}
	return nil
}
