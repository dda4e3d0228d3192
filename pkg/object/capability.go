package object

import "strings"

// Capability is a 64-bit set of operations an object may perform.
//
// Only the capabilities used by this module's command set are named; any
// other bit is carried through encoding untouched.
type Capability uint64

// Capability bits.
const (
	CapabilityGetOpaque               Capability = 1 << 0
	CapabilityPutOpaque               Capability = 1 << 1
	CapabilityPutAuthenticationKey    Capability = 1 << 2
	CapabilityPutAsymmetricKey        Capability = 1 << 3
	CapabilityGenerateAsymmetricKey   Capability = 1 << 4
	CapabilitySignPKCS                Capability = 1 << 5
	CapabilitySignPSS                 Capability = 1 << 6
	CapabilitySignECDSA               Capability = 1 << 7
	CapabilitySignEdDSA               Capability = 1 << 8
	CapabilityDecryptPKCS             Capability = 1 << 9
	CapabilityDecryptOAEP             Capability = 1 << 10
	CapabilityDeriveECDH              Capability = 1 << 11
	CapabilityExportWrapped           Capability = 1 << 12
	CapabilityImportWrapped           Capability = 1 << 13
	CapabilityGetLogEntries           Capability = 1 << 24
	CapabilityDeleteOpaque            Capability = 1 << 39
	CapabilityDeleteAuthenticationKey Capability = 1 << 40
	CapabilityDeleteAsymmetricKey     Capability = 1 << 41
)

var capabilityNames = []struct {
	c    Capability
	name string
}{
	{CapabilityGetOpaque, "get-opaque"},
	{CapabilityPutOpaque, "put-opaque"},
	{CapabilityPutAuthenticationKey, "put-authentication-key"},
	{CapabilityPutAsymmetricKey, "put-asymmetric-key"},
	{CapabilityGenerateAsymmetricKey, "generate-asymmetric-key"},
	{CapabilitySignPKCS, "sign-pkcs"},
	{CapabilitySignPSS, "sign-pss"},
	{CapabilitySignECDSA, "sign-ecdsa"},
	{CapabilitySignEdDSA, "sign-eddsa"},
	{CapabilityDecryptPKCS, "decrypt-pkcs"},
	{CapabilityDecryptOAEP, "decrypt-oaep"},
	{CapabilityDeriveECDH, "derive-ecdh"},
	{CapabilityExportWrapped, "export-wrapped"},
	{CapabilityImportWrapped, "import-wrapped"},
	{CapabilityGetLogEntries, "get-log-entries"},
	{CapabilityDeleteOpaque, "delete-opaque"},
	{CapabilityDeleteAuthenticationKey, "delete-authentication-key"},
	{CapabilityDeleteAsymmetricKey, "delete-asymmetric-key"},
}

// Has reports whether every bit of other is set in c.
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

// String returns the named capabilities joined with ':'.
func (c Capability) String() string {
	var parts []string
	for _, n := range capabilityNames {
		if c.Has(n.c) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ":")
}
