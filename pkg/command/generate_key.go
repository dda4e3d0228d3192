package command

import (
	"encoding/binary"

	"github.com/backkem/yubihsm/pkg/message"
	"github.com/backkem/yubihsm/pkg/object"
)

// generateKeySize is id(2) || label(40) || domains(2) || capabilities(8) ||
// algorithm(1).
const generateKeySize = 2 + object.LabelSize + 2 + 8 + 1

// GenerateAsymmetricKey creates a key pair on the device. An ID of zero
// lets the device choose one.
type GenerateAsymmetricKey struct {
	ID           object.ID
	Label        object.Label
	Domains      object.Domains
	Capabilities object.Capability
	Algorithm    object.Algorithm
}

// CommandType implements Command.
func (GenerateAsymmetricKey) CommandType() message.CommandType {
	return message.CommandGenerateAsymmetricKey
}

// MarshalBinary encodes the request.
func (c GenerateAsymmetricKey) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, generateKeySize)
	b = binary.BigEndian.AppendUint16(b, uint16(c.ID))
	b = append(b, c.Label[:]...)
	b = binary.BigEndian.AppendUint16(b, c.Domains.Uint16())
	b = binary.BigEndian.AppendUint64(b, uint64(c.Capabilities))
	b = append(b, byte(c.Algorithm))
	return b, nil
}

// UnmarshalBinary decodes the request.
func (c *GenerateAsymmetricKey) UnmarshalBinary(b []byte) error {
	if len(b) != generateKeySize {
		return ErrInvalidLength
	}
	c.ID = object.ID(binary.BigEndian.Uint16(b[0:2]))
	copy(c.Label[:], b[2:2+object.LabelSize])
	b = b[2+object.LabelSize:]
	c.Domains = object.DomainsFromUint16(binary.BigEndian.Uint16(b[0:2]))
	c.Capabilities = object.Capability(binary.BigEndian.Uint64(b[2:10]))
	c.Algorithm = object.Algorithm(b[10])
	return nil
}

// GenerateAsymmetricKeyResponse carries the ID of the new key.
type GenerateAsymmetricKeyResponse struct {
	ID object.ID
}

// MarshalBinary encodes the key ID.
func (r *GenerateAsymmetricKeyResponse) MarshalBinary() ([]byte, error) {
	return binary.BigEndian.AppendUint16(nil, uint16(r.ID)), nil
}

// UnmarshalBinary decodes the key ID.
func (r *GenerateAsymmetricKeyResponse) UnmarshalBinary(b []byte) error {
	if len(b) != 2 {
		return ErrInvalidLength
	}
	r.ID = object.ID(binary.BigEndian.Uint16(b))
	return nil
}
