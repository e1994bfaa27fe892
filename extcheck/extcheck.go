// Package extcheck implements CriticalExtCheck: rejecting certificates
// that mark an extension critical that the engine doesn't know how to
// enforce.
package extcheck

import (
	"encoding/asn1"

	"github.com/pki-tools/chainvalidator/certview"
	cverrors "github.com/pki-tools/chainvalidator/errors"
)

// Whitelist is the set of critical-extension OIDs the engine accepts,
// kept as data (per design note in spec §9) rather than hardcoded into
// the matcher, so a caller can pass a different set to New without
// changing the matcher. cmd/chainval always uses DefaultWhitelist.
type Whitelist struct {
	oids map[string]bool
}

// DefaultWhitelist is keyUsage, basicConstraints, certificatePolicies,
// extendedKeyUsage — the four OIDs named in spec §3.
func DefaultWhitelist() *Whitelist {
	return NewWhitelist(
		asn1.ObjectIdentifier{2, 5, 29, 15}, // keyUsage
		asn1.ObjectIdentifier{2, 5, 29, 19}, // basicConstraints
		asn1.ObjectIdentifier{2, 5, 29, 32}, // certificatePolicies
		asn1.ObjectIdentifier{2, 5, 29, 37}, // extendedKeyUsage
	)
}

// NewWhitelist builds a Whitelist from an explicit OID set, for callers
// that want to extend the default set from configuration.
func NewWhitelist(oids ...asn1.ObjectIdentifier) *Whitelist {
	w := &Whitelist{oids: make(map[string]bool, len(oids))}
	for _, oid := range oids {
		w.oids[oid.String()] = true
	}
	return w
}

func (w *Whitelist) Allows(oid asn1.ObjectIdentifier) bool {
	return w.oids[oid.String()]
}

// Checker enforces a Whitelist against a certificate's extensions.
type Checker struct {
	whitelist *Whitelist
}

func New(whitelist *Whitelist) *Checker {
	if whitelist == nil {
		whitelist = DefaultWhitelist()
	}
	return &Checker{whitelist: whitelist}
}

// Check returns UnsupportedCert if any critical extension's OID isn't
// on the whitelist, and nil otherwise.
func (c *Checker) Check(cert *certview.Certificate) error {
	for _, ext := range cert.Extensions() {
		if !ext.Critical {
			continue
		}
		if !c.whitelist.Allows(ext.OID) {
			return cverrors.UnsupportedCertError(
				"critical extension %s is not on the accepted whitelist", ext.OID)
		}
	}
	return nil
}
