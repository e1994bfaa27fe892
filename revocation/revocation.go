// Package revocation implements RevocationOracle: the isStillValid
// check described in spec §4.3, delegating the actual OCSP/CRL work to
// Dirmngr and best-effort caching the outcome on the KeyDB entry.
package revocation

import (
	"context"
	"crypto/x509"

	"github.com/pki-tools/chainvalidator/certview"
	"github.com/pki-tools/chainvalidator/dirmngr"
	cverrors "github.com/pki-tools/chainvalidator/errors"
)

// CacheSetter is the narrow slice of KeyDB that RevocationOracle needs:
// marking a subject's cached validity flag. Scoped to just this method
// so revocation doesn't need to depend on the whole issuerdb package.
type CacheSetter interface {
	SetRevoked(subject *certview.Certificate) error
}

// StatusChecker is the narrow slice of Dirmngr that RevocationOracle
// needs, scoped down from *dirmngr.Client so tests can substitute a
// fake OCSP/CRL responder.
type StatusChecker interface {
	IsValid(ctx context.Context, subject, issuer *x509.Certificate, useOCSP bool) (dirmngr.RevocationStatus, error)
}

// Oracle implements RevocationOracle.
type Oracle struct {
	dirmngr    StatusChecker
	cache      CacheSetter
	noCRLCheck bool
}

// New builds an Oracle. cache may be nil, in which case the
// best-effort KeyDB annotation on revoked is simply skipped.
func New(dm StatusChecker, cache CacheSetter, noCRLCheck bool) *Oracle {
	return &Oracle{dirmngr: dm, cache: cache, noCRLCheck: noCRLCheck}
}

// IsStillValid implements spec §4.3 exactly: skipped entirely when
// noCRLCheck is configured and OCSP isn't being requested.
func (o *Oracle) IsStillValid(ctx context.Context, subject, issuer *certview.Certificate, useOCSP bool) error {
	if o.noCRLCheck && !useOCSP {
		return nil
	}

	status, err := o.dirmngr.IsValid(ctx, subject.Raw(), issuer.Raw(), useOCSP)
	if err != nil {
		return cverrors.New(cverrors.General, "revocation check failed: %v", err)
	}

	switch status {
	case dirmngr.StatusGood:
		return nil
	case dirmngr.StatusRevoked:
		if o.cache != nil {
			_ = o.cache.SetRevoked(subject)
		}
		return cverrors.New(cverrors.CertRevoked, "certificate %s is revoked", subject.SubjectDN())
	case dirmngr.StatusNoCRL:
		return cverrors.New(cverrors.NoCRL, "no CRL available for issuer %s", issuer.SubjectDN())
	case dirmngr.StatusCRLTooOld:
		return cverrors.New(cverrors.CRLTooOld, "CRL for issuer %s is past its next-update deadline", issuer.SubjectDN())
	default:
		return cverrors.New(cverrors.General, "revocation oracle returned unexpected status %d", status)
	}
}
