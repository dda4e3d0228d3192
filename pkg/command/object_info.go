package command

import (
	"encoding/binary"

	"github.com/backkem/yubihsm/pkg/message"
	"github.com/backkem/yubihsm/pkg/object"
)

// objectRefSize is id(2) || type(1).
const objectRefSize = 3

// ObjectRef addresses one object: IDs are unique per type.
type ObjectRef struct {
	ID   object.ID
	Type object.Type
}

func (r ObjectRef) marshal() []byte {
	b := make([]byte, objectRefSize)
	binary.BigEndian.PutUint16(b[0:2], uint16(r.ID))
	b[2] = byte(r.Type)
	return b
}

func (r *ObjectRef) unmarshal(b []byte) error {
	if len(b) != objectRefSize {
		return ErrInvalidLength
	}
	r.ID = object.ID(binary.BigEndian.Uint16(b[0:2]))
	r.Type = object.Type(b[2])
	return nil
}

// GetObjectInfo requests the metadata of one object.
type GetObjectInfo struct {
	ObjectRef
}

// CommandType implements Command.
func (GetObjectInfo) CommandType() message.CommandType { return message.CommandGetObjectInfo }

// MarshalBinary encodes id || type.
func (c GetObjectInfo) MarshalBinary() ([]byte, error) { return c.marshal(), nil }

// UnmarshalBinary decodes id || type.
func (c *GetObjectInfo) UnmarshalBinary(b []byte) error { return c.unmarshal(b) }

// objectInfoSize is the fixed size of an object info response.
const objectInfoSize = 8 + 2 + 2 + 2 + 1 + 1 + 1 + 1 + object.LabelSize + 8

// ObjectInfo is the metadata of an object.
type ObjectInfo struct {
	Capabilities          object.Capability
	ID                    object.ID
	Length                uint16
	Domains               object.Domains
	Type                  object.Type
	Algorithm             object.Algorithm
	Sequence              uint8
	Origin                object.Origin
	Label                 object.Label
	DelegatedCapabilities object.Capability
}

// MarshalBinary encodes the object info.
func (o *ObjectInfo) MarshalBinary() ([]byte, error) {
	b := make([]byte, objectInfoSize)
	binary.BigEndian.PutUint64(b[0:8], uint64(o.Capabilities))
	binary.BigEndian.PutUint16(b[8:10], uint16(o.ID))
	binary.BigEndian.PutUint16(b[10:12], o.Length)
	binary.BigEndian.PutUint16(b[12:14], o.Domains.Uint16())
	b[14] = byte(o.Type)
	b[15] = byte(o.Algorithm)
	b[16] = o.Sequence
	b[17] = byte(o.Origin)
	copy(b[18:18+object.LabelSize], o.Label[:])
	binary.BigEndian.PutUint64(b[18+object.LabelSize:], uint64(o.DelegatedCapabilities))
	return b, nil
}

// UnmarshalBinary decodes the object info.
func (o *ObjectInfo) UnmarshalBinary(b []byte) error {
	if len(b) != objectInfoSize {
		return ErrInvalidLength
	}
	o.Capabilities = object.Capability(binary.BigEndian.Uint64(b[0:8]))
	o.ID = object.ID(binary.BigEndian.Uint16(b[8:10]))
	o.Length = binary.BigEndian.Uint16(b[10:12])
	o.Domains = object.DomainsFromUint16(binary.BigEndian.Uint16(b[12:14]))
	o.Type = object.Type(b[14])
	o.Algorithm = object.Algorithm(b[15])
	o.Sequence = b[16]
	o.Origin = object.Origin(b[17])
	copy(o.Label[:], b[18:18+object.LabelSize])
	o.DelegatedCapabilities = object.Capability(binary.BigEndian.Uint64(b[18+object.LabelSize:]))
	return nil
}

// GetObjectInfoResponse is the metadata of the requested object.
type GetObjectInfoResponse = ObjectInfo

// DeleteObject removes one object.
type DeleteObject struct {
	ObjectRef
}

// CommandType implements Command.
func (DeleteObject) CommandType() message.CommandType { return message.CommandDeleteObject }

// MarshalBinary encodes id || type.
func (c DeleteObject) MarshalBinary() ([]byte, error) { return c.marshal(), nil }

// UnmarshalBinary decodes id || type.
func (c *DeleteObject) UnmarshalBinary(b []byte) error { return c.unmarshal(b) }

// DeleteObjectResponse is empty.
type DeleteObjectResponse struct{}

// MarshalBinary returns an empty payload.
func (DeleteObjectResponse) MarshalBinary() ([]byte, error) { return nil, nil }

// UnmarshalBinary accepts only an empty payload.
func (*DeleteObjectResponse) UnmarshalBinary(b []byte) error {
	if len(b) != 0 {
		return ErrInvalidLength
	}
	return nil
}
