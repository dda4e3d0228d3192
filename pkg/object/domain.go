// Package object implements the fixed-width encodings of YubiHSM2 object
// metadata: domains, capabilities, object IDs, types, labels and algorithms.
//
// These encodings are what the command layer serializes into request and
// response payloads. None of them carry protocol state.
package object

import (
	"fmt"
	"strings"
)

// Domain limits.
const (
	// DomainMin is the lowest valid domain number.
	DomainMin = 1

	// DomainMax is the highest valid domain number.
	DomainMax = 16
)

// Domain is a logical partition within the HSM, numbered 1 through 16.
type Domain uint8

// NewDomain validates and returns a domain.
func NewDomain(n uint8) (Domain, error) {
	if n < DomainMin || n > DomainMax {
		return 0, fmt.Errorf("%w: %d", ErrInvalidDomain, n)
	}
	return Domain(n), nil
}

// bit returns the bitfield position of this domain (domain 1 is bit 0).
func (d Domain) bit() uint16 {
	return 1 << (uint16(d) - 1)
}

// Domains is a set of domains encoded on the wire as a 16-bit bitfield.
type Domains uint16

// AllDomains contains every domain.
const AllDomains Domains = 0xffff

// NewDomains builds a domain set from domain numbers.
func NewDomains(domains ...uint8) (Domains, error) {
	var set Domains
	for _, n := range domains {
		d, err := NewDomain(n)
		if err != nil {
			return 0, err
		}
		set |= Domains(d.bit())
	}
	return set, nil
}

// DomainsFromUint16 decodes a wire bitfield. Every bit is meaningful, so this
// cannot fail.
func DomainsFromUint16(bitfield uint16) Domains {
	return Domains(bitfield)
}

// Uint16 returns the wire bitfield.
func (d Domains) Uint16() uint16 {
	return uint16(d)
}

// Contains reports whether the domain is in the set.
func (d Domains) Contains(domain Domain) bool {
	if domain < DomainMin || domain > DomainMax {
		return false
	}
	return uint16(d)&domain.bit() != 0
}

// List returns the domains in ascending order.
func (d Domains) List() []Domain {
	var out []Domain
	for n := Domain(DomainMin); n <= DomainMax; n++ {
		if d.Contains(n) {
			out = append(out, n)
		}
	}
	return out
}

// String returns a comma separated list, e.g. "1,5,16".
func (d Domains) String() string {
	list := d.List()
	parts := make([]string, len(list))
	for i, n := range list {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, ",")
}
