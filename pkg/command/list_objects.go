package command

import (
	"encoding/binary"

	"github.com/backkem/yubihsm/pkg/message"
	"github.com/backkem/yubihsm/pkg/object"
)

// Filter tags of list-objects.
const (
	filterID           byte = 0x01
	filterType         byte = 0x02
	filterDomains      byte = 0x03
	filterCapabilities byte = 0x04
	filterAlgorithm    byte = 0x05
	filterLabel        byte = 0x06
)

// ListObjects enumerates objects. Nil filter fields match everything.
type ListObjects struct {
	ID           *object.ID
	Type         *object.Type
	Domains      *object.Domains
	Capabilities *object.Capability
	Algorithm    *object.Algorithm
	Label        *object.Label
}

// CommandType implements Command.
func (ListObjects) CommandType() message.CommandType { return message.CommandListObjects }

// MarshalBinary encodes the set filters as tag || value.
func (c ListObjects) MarshalBinary() ([]byte, error) {
	var b []byte
	if c.ID != nil {
		b = append(b, filterID)
		b = binary.BigEndian.AppendUint16(b, uint16(*c.ID))
	}
	if c.Type != nil {
		b = append(b, filterType, byte(*c.Type))
	}
	if c.Domains != nil {
		b = append(b, filterDomains)
		b = binary.BigEndian.AppendUint16(b, c.Domains.Uint16())
	}
	if c.Capabilities != nil {
		b = append(b, filterCapabilities)
		b = binary.BigEndian.AppendUint64(b, uint64(*c.Capabilities))
	}
	if c.Algorithm != nil {
		b = append(b, filterAlgorithm, byte(*c.Algorithm))
	}
	if c.Label != nil {
		b = append(b, filterLabel)
		b = append(b, c.Label[:]...)
	}
	return b, nil
}

// UnmarshalBinary decodes a filter list.
func (c *ListObjects) UnmarshalBinary(b []byte) error {
	*c = ListObjects{}
	for len(b) > 0 {
		tag := b[0]
		b = b[1:]
		var n int
		switch tag {
		case filterID, filterDomains:
			n = 2
		case filterType, filterAlgorithm:
			n = 1
		case filterCapabilities:
			n = 8
		case filterLabel:
			n = object.LabelSize
		default:
			return ErrInvalidFilter
		}
		if len(b) < n {
			return ErrInvalidLength
		}
		v := b[:n]
		b = b[n:]

		switch tag {
		case filterID:
			id := object.ID(binary.BigEndian.Uint16(v))
			c.ID = &id
		case filterType:
			t := object.Type(v[0])
			c.Type = &t
		case filterDomains:
			d := object.DomainsFromUint16(binary.BigEndian.Uint16(v))
			c.Domains = &d
		case filterCapabilities:
			cp := object.Capability(binary.BigEndian.Uint64(v))
			c.Capabilities = &cp
		case filterAlgorithm:
			a := object.Algorithm(v[0])
			c.Algorithm = &a
		case filterLabel:
			var l object.Label
			copy(l[:], v)
			c.Label = &l
		}
	}
	return nil
}

// Match reports whether info passes every set filter. Domain and
// capability filters match on any overlap.
func (c ListObjects) Match(info *ObjectInfo) bool {
	switch {
	case c.ID != nil && *c.ID != info.ID:
		return false
	case c.Type != nil && *c.Type != info.Type:
		return false
	case c.Domains != nil && c.Domains.Uint16()&info.Domains.Uint16() == 0:
		return false
	case c.Capabilities != nil && *c.Capabilities&info.Capabilities == 0:
		return false
	case c.Algorithm != nil && *c.Algorithm != info.Algorithm:
		return false
	case c.Label != nil && *c.Label != info.Label:
		return false
	}
	return true
}

// listEntrySize is id(2) || type(1) || sequence(1).
const listEntrySize = 4

// ListEntry is one object in a list-objects response.
type ListEntry struct {
	ID       object.ID
	Type     object.Type
	Sequence uint8
}

// ListObjectsResponse lists matching objects.
type ListObjectsResponse struct {
	Objects []ListEntry
}

// MarshalBinary encodes the entries.
func (r *ListObjectsResponse) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, listEntrySize*len(r.Objects))
	for _, e := range r.Objects {
		b = binary.BigEndian.AppendUint16(b, uint16(e.ID))
		b = append(b, byte(e.Type), e.Sequence)
	}
	return b, nil
}

// UnmarshalBinary decodes the entries.
func (r *ListObjectsResponse) UnmarshalBinary(b []byte) error {
	if len(b)%listEntrySize != 0 {
		return ErrInvalidLength
	}
	r.Objects = make([]ListEntry, 0, len(b)/listEntrySize)
	for ; len(b) > 0; b = b[listEntrySize:] {
		r.Objects = append(r.Objects, ListEntry{
			ID:       object.ID(binary.BigEndian.Uint16(b[0:2])),
			Type:     object.Type(b[2]),
			Sequence: b[3],
		})
	}
	return nil
}
