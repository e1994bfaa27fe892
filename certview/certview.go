// Package certview is the engine's CertParser/CertView collaborator: a
// read-only projection of a parsed certificate, plus the mutable
// per-certificate side-data map the spec calls "user-data". The
// engine's collaborator interfaces work against the Certificate
// handle; packages that hand certificates to crypto/x509-based APIs
// (signature checks, OCSP/CRL, CT) reach the parsed form via Raw.
package certview

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"sync"
	"time"
)

// AuthorityKeyIdentifier mirrors the AKI extension's three optional
// components.
type AuthorityKeyIdentifier struct {
	KeyID        []byte
	IssuerName   string // normalized DN string, empty if absent
	SerialNumber []byte // DER bytes of the big.Int serial, nil if absent
}

// Certificate is the opaque handle the rest of the engine operates on.
// It is a thin, read-only wrapper around an *x509.Certificate plus a
// reference into the side-data table passed to New, keyed by the
// certificate's DER fingerprint so that user-data survives independent
// of any particular *Certificate value sharing the same bytes.
type Certificate struct {
	raw         *x509.Certificate
	der         []byte
	fingerprint [32]byte
	side        *sideTable
}

// New parses DER bytes into a Certificate handle.
func New(der []byte, side *SideData) (*Certificate, error) {
	c, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("certview: parse certificate: %w", err)
	}
	return &Certificate{
		raw:         c,
		der:         der,
		fingerprint: sha256.Sum256(der),
		side:        side.table,
	}, nil
}

func (c *Certificate) IssuerDN() string  { return c.raw.Issuer.String() }
func (c *Certificate) SubjectDN() string { return c.raw.Subject.String() }
func (c *Certificate) NotBefore() time.Time { return c.raw.NotBefore }
func (c *Certificate) NotAfter() time.Time  { return c.raw.NotAfter }
func (c *Certificate) RawDER() []byte       { return c.der }
func (c *Certificate) Raw() *x509.Certificate { return c.raw }
func (c *Certificate) SubjectPublicKeyInfo() interface{} { return c.raw.PublicKey }
func (c *Certificate) TBSCertificate() []byte { return c.raw.RawTBSCertificate }
func (c *Certificate) Signature() []byte      { return c.raw.Signature }
func (c *Certificate) SubjectKeyIdentifier() []byte { return c.raw.SubjectKeyId }
func (c *Certificate) Country() string {
	if len(c.raw.Subject.Country) > 0 {
		return c.raw.Subject.Country[0]
	}
	return ""
}

// IsRoot implements the spec's root invariant: issuerDN == subjectDN,
// compared bytewise on the normalized DN string (not via any relaxed
// or case-insensitive comparison).
func (c *Certificate) IsRoot() bool {
	return c.raw.Issuer.String() == c.raw.Subject.String()
}

// Fingerprint returns the SHA-256 DER fingerprint used to key side-data.
// The AskedTrustedSet uses FingerprintSHA1Hex instead.
func (c *Certificate) Fingerprint() [32]byte { return c.fingerprint }

// FingerprintHex is a convenience accessor for logging and set keys.
func (c *Certificate) FingerprintHex() string { return fmt.Sprintf("%x", c.fingerprint) }

// FingerprintSHA1Hex is the SHA-1 DER fingerprint, used only for
// AskedTrustedSet membership, matching spec.md's glossary definition
// of that set. Every other identity/caching concern in this module
// keys off the stronger SHA-256 fingerprint above.
func (c *Certificate) FingerprintSHA1Hex() string {
	sum := sha1.Sum(c.der)
	return fmt.Sprintf("%x", sum)
}

// SameDER reports whether two handles carry byte-identical DER images,
// used by the bad-signature retry loop to detect the resolver handing
// back the same candidate twice.
func SameDER(a, b *Certificate) bool {
	if len(a.der) != len(b.der) {
		return false
	}
	for i := range a.der {
		if a.der[i] != b.der[i] {
			return false
		}
	}
	return true
}

// AuthorityKeyID extracts the AKI extension, if present.
func (c *Certificate) AuthorityKeyID() *AuthorityKeyIdentifier {
	aki := &AuthorityKeyIdentifier{}
	found := false
	if len(c.raw.AuthorityKeyId) > 0 {
		aki.KeyID = c.raw.AuthorityKeyId
		found = true
	}
	// crypto/x509 only surfaces the keyIdentifier component; the
	// issuer/serial alternative form is decoded from the raw extension.
	if ext := c.findExtension(oidAuthorityKeyIdentifier); ext != nil {
		var raw rawAKI
		if _, err := asn1.Unmarshal(ext.Value, &raw); err == nil {
			if len(raw.KeyID) > 0 {
				aki.KeyID = raw.KeyID
				found = true
			}
			if len(raw.SerialNumber.Bytes) > 0 {
				aki.SerialNumber = raw.SerialNumber.Bytes
				found = true
			}
			if len(raw.Issuer) > 0 {
				aki.IssuerName = raw.Issuer[0].String()
				found = true
			}
		}
	}
	if !found {
		return nil
	}
	return aki
}

var oidAuthorityKeyIdentifier = asn1.ObjectIdentifier{2, 5, 29, 35}

// rawAKI models the ASN.1 AuthorityKeyIdentifier SEQUENCE well enough to
// recover the issuer/serial alternative form; crypto/x509 only exposes
// the keyIdentifier component.
type rawAKI struct {
	KeyID        []byte              `asn1:"optional,tag:0"`
	Issuer       generalNamesDirOnly `asn1:"optional,tag:1"`
	SerialNumber asn1.RawValue       `asn1:"optional,tag:2"`
}

type generalNamesDirOnly []pkix.RDNSequence

func (c *Certificate) findExtension(oid asn1.ObjectIdentifier) *pkix.Extension {
	for _, ext := range c.raw.Extensions {
		if ext.Id.Equal(oid) {
			e := ext
			return &e
		}
	}
	return nil
}

// Extension is a critical/non-critical extension as enumerated by
// CriticalExtCheck.
type Extension struct {
	OID      asn1.ObjectIdentifier
	Critical bool
	Value    []byte
}

// Extensions enumerates every extension on the certificate.
func (c *Certificate) Extensions() []Extension {
	out := make([]Extension, 0, len(c.raw.Extensions))
	for _, ext := range c.raw.Extensions {
		out = append(out, Extension{OID: ext.Id, Critical: ext.Critical, Value: ext.Value})
	}
	return out
}

// BasicConstraints reports the isCA flag and pathLenConstraint the way
// CAConstraintCheck needs them. pathLen is -1 when unbounded (either
// absent or explicitly unlimited), matching the spec's "-1 meaning
// unbounded" convention.
func (c *Certificate) BasicConstraints() (isCA bool, pathLen int, present bool) {
	if !c.raw.BasicConstraintsValid {
		return false, -1, false
	}
	pl := -1
	if c.raw.MaxPathLen >= 0 && !c.raw.MaxPathLenZero {
		pl = c.raw.MaxPathLen
	} else if c.raw.MaxPathLenZero {
		pl = 0
	}
	return c.raw.IsCA, pl, true
}

// PoliciesString renders the certificatePolicies extension as the
// newline-delimited "OID:N|C" record format PolicyChecker expects, or
// the empty string if the certificate carries no policy extension.
func (c *Certificate) PoliciesString() string {
	if len(c.raw.PolicyIdentifiers) == 0 {
		return ""
	}
	critical := false
	if ext := c.findExtension(oidCertificatePolicies); ext != nil {
		critical = ext.Critical
	}
	flag := "N"
	if critical {
		flag = "C"
	}
	s := ""
	for i, oid := range c.raw.PolicyIdentifiers {
		if i > 0 {
			s += "\n"
		}
		s += oid.String() + ":" + flag
	}
	return s
}

var oidCertificatePolicies = asn1.ObjectIdentifier{2, 5, 29, 32}

// SideData is a handle into the shared side-data table a caller passes
// to New when parsing certificates for one validation pass (or for the
// lifetime of a long-running process, if it wants user-data to persist
// across calls the way the spec's mutable certificate handle does).
type SideData struct {
	table *sideTable
}

// NewSideData allocates a fresh, empty side-data table.
func NewSideData() *SideData {
	return &SideData{table: &sideTable{}}
}

type sideTable struct {
	mu   sync.Mutex
	data map[[32]byte]map[string][]byte
}

// UserData reads a side-data slot for this certificate, by fingerprint.
func (c *Certificate) UserData(key string) ([]byte, bool) {
	t := c.side
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.data == nil {
		return nil, false
	}
	m, ok := t.data[c.fingerprint]
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// SetUserData writes a side-data slot for this certificate. Writes
// survive past the call that made them, exactly as the spec's
// certificate-handle lifecycle requires.
func (c *Certificate) SetUserData(key string, value []byte) {
	t := c.side
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.data == nil {
		t.data = make(map[[32]byte]map[string][]byte)
	}
	m, ok := t.data[c.fingerprint]
	if !ok {
		m = make(map[string][]byte)
		t.data[c.fingerprint] = m
	}
	m[key] = value
}
