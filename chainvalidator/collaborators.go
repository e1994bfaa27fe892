package chainvalidator

import (
	"context"

	"github.com/pki-tools/chainvalidator/certview"
	"github.com/pki-tools/chainvalidator/core"
	"github.com/pki-tools/chainvalidator/qualified"
	"github.com/pki-tools/chainvalidator/trustanchor"
)

// IssuerResolver is the findUp collaborator (issuerdb.KeyDB implements
// this).
type IssuerResolver interface {
	FindUp(ctx context.Context, subject *certview.Certificate, issuerDN string, findNext bool) (*certview.Certificate, bool, error)
}

// RevocationOracle answers isStillValid (revocation.Oracle implements
// this).
type RevocationOracle interface {
	IsStillValid(ctx context.Context, subject, issuer *certview.Certificate, useOCSP bool) error
}

// PolicyChecker matches the certificatePolicies extension against an
// admin file (policy.Checker implements this).
type PolicyChecker interface {
	Check(cert *certview.Certificate) error
}

// TrustAnchorService answers root trust queries and runs the
// interactive promotion prompt (trustanchor.Service implements this).
type TrustAnchorService interface {
	IsTrusted(root *certview.Certificate) (core.RootCAFlags, error)
	MarkTrustedInteractive(ctx context.Context, root *certview.Certificate) (trustanchor.MarkResult, error)
}

// CriticalExtCheck enforces the critical-extension whitelist
// (extcheck.Checker implements this).
type CriticalExtCheck interface {
	Check(cert *certview.Certificate) error
}

// CAConstraintCheck enforces Basic Constraints / pathLenConstraint
// (caconstraint.Checker implements this).
type CAConstraintCheck interface {
	AllowedCA(cert *certview.Certificate) (chainLen int, err error)
}

// QualifiedSigClassifier decides whether a root anchors a
// qualified-signature chain (qualified.Classifier implements this).
type QualifiedSigClassifier interface {
	ClassifyRoot(root *certview.Certificate) qualified.Decision
}
