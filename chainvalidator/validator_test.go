package chainvalidator

import (
	"context"
	"encoding/asn1"
	"testing"
	"time"

	"github.com/pki-tools/chainvalidator/caconstraint"
	"github.com/pki-tools/chainvalidator/certview"
	"github.com/pki-tools/chainvalidator/core"
	cverrors "github.com/pki-tools/chainvalidator/errors"
	"github.com/pki-tools/chainvalidator/extcheck"
	"github.com/pki-tools/chainvalidator/internal/fakes"
	"github.com/pki-tools/chainvalidator/internal/testcerts"
	"github.com/pki-tools/chainvalidator/policy"
	"github.com/pki-tools/chainvalidator/qualified"
	"github.com/pki-tools/chainvalidator/trustanchor"
)

func wrap(t *testing.T, side *certview.SideData, s *testcerts.Signed) *certview.Certificate {
	t.Helper()
	c, err := certview.New(s.DER, side)
	if err != nil {
		t.Fatalf("certview.New: %v", err)
	}
	return c
}

// harness bundles a fresh set of fakes plus the always-real, stateless
// collaborators (extcheck, caconstraint, policy) that don't need
// faking to be test-friendly.
type harness struct {
	issuers    *fakes.Issuers
	revocation *fakes.Revocation
	trust      *fakes.Trust
	qualified  *fakes.Qualified
	side       *certview.SideData
}

func newHarness() *harness {
	return &harness{
		issuers:    fakes.NewIssuers(),
		revocation: fakes.NewRevocation(nil),
		trust:      fakes.NewTrust(),
		qualified:  &fakes.Qualified{Decision: qualified.No},
		side:       certview.NewSideData(),
	}
}

func (h *harness) validator(cfg Config) *Validator {
	return New(
		h.issuers,
		h.revocation,
		policy.New("", nil),
		h.trust,
		extcheck.New(nil),
		caconstraint.New(nil),
		h.qualified,
		cfg,
		nil,
	)
}

func trustRoot(h *harness, root *certview.Certificate, relax bool) {
	h.trust.SetVerdict(root, core.RootCAFlags{Verdict: core.TrustOK, Flags: core.TrustAnchorFlags{Relax: relax}})
}

func TestValidateSelfSignedTrustedRoot(t *testing.T) {
	h := newHarness()
	root := wrap(t, h.side, testcerts.SelfSigned(testcerts.Options{CommonName: "Trusted Root", IsCA: true}))
	trustRoot(h, root, false)

	v := h.validator(Config{})
	res := v.Validate(context.Background(), NewSession(), &core.ValidationRequest{Target: root, Now: time.Now()})
	if res.ErrorKind != core.OK {
		t.Fatalf("expected OK, got %s", res.ErrorKind)
	}
}

func TestValidateTwoLevelChain(t *testing.T) {
	h := newHarness()
	rootSigned := testcerts.SelfSigned(testcerts.Options{CommonName: "Root CA", IsCA: true})
	leafSigned := testcerts.IssuedBy(rootSigned, testcerts.Options{CommonName: "leaf.example.com"})

	root := wrap(t, h.side, rootSigned)
	leaf := wrap(t, h.side, leafSigned)
	h.issuers.Add(root)
	trustRoot(h, root, false)

	v := h.validator(Config{})
	res := v.Validate(context.Background(), NewSession(), &core.ValidationRequest{Target: leaf, Now: time.Now()})
	if res.ErrorKind != core.OK {
		t.Fatalf("expected OK, got %s", res.ErrorKind)
	}
}

func TestValidateUnknownCriticalExtension(t *testing.T) {
	h := newHarness()
	rootSigned := testcerts.SelfSigned(testcerts.Options{CommonName: "Root CA", IsCA: true})
	leafSigned := testcerts.IssuedBy(rootSigned, testcerts.Options{
		CommonName:       "leaf.example.com",
		CriticalExtraOID: []int{1, 2, 3, 4, 5, 6},
	})

	root := wrap(t, h.side, rootSigned)
	leaf := wrap(t, h.side, leafSigned)
	h.issuers.Add(root)
	trustRoot(h, root, false)

	v := h.validator(Config{})
	res := v.Validate(context.Background(), NewSession(), &core.ValidationRequest{Target: leaf, Now: time.Now()})
	if res.ErrorKind != core.UnsupportedCert {
		t.Fatalf("expected UnsupportedCert, got %s", res.ErrorKind)
	}
}

func TestValidateBadSignatureRetrySucceeds(t *testing.T) {
	h := newHarness()
	rootSigned := testcerts.SelfSigned(testcerts.Options{CommonName: "Root CA", IsCA: true})
	// wrongRoot shares the root's subject DN but a different key, so it
	// resolves as a same-DN candidate that fails signature verification.
	wrongRoot := testcerts.SelfSigned(testcerts.Options{CommonName: "Root CA", IsCA: true, SerialNumber: 99})
	leafSigned := testcerts.IssuedBy(rootSigned, testcerts.Options{CommonName: "leaf.example.com"})

	root := wrap(t, h.side, rootSigned)
	decoy := wrap(t, h.side, wrongRoot)
	leaf := wrap(t, h.side, leafSigned)

	h.issuers.Add(decoy).Add(root)
	trustRoot(h, root, false)

	v := h.validator(Config{})
	res := v.Validate(context.Background(), NewSession(), &core.ValidationRequest{Target: leaf, Now: time.Now()})
	if res.ErrorKind != core.OK {
		t.Fatalf("expected OK after retry, got %s", res.ErrorKind)
	}
}

func TestValidateRevokedLeaf(t *testing.T) {
	h := newHarness()
	rootSigned := testcerts.SelfSigned(testcerts.Options{CommonName: "Root CA", IsCA: true})
	leafSigned := testcerts.IssuedBy(rootSigned, testcerts.Options{CommonName: "leaf.example.com"})

	root := wrap(t, h.side, rootSigned)
	leaf := wrap(t, h.side, leafSigned)
	h.issuers.Add(root)
	trustRoot(h, root, false)
	h.revocation.SetFor(leaf, cverrors.New(cverrors.CertRevoked, "revoked"))

	v := h.validator(Config{})
	res := v.Validate(context.Background(), NewSession(), &core.ValidationRequest{Target: leaf, Now: time.Now()})
	if res.ErrorKind != core.CertRevoked {
		t.Fatalf("expected CertRevoked, got %s", res.ErrorKind)
	}
}

func TestValidatePolicyMismatchCritical(t *testing.T) {
	h := newHarness()
	rootSigned := testcerts.SelfSigned(testcerts.Options{CommonName: "Root CA", IsCA: true})
	leafSigned := testcerts.IssuedBy(rootSigned, testcerts.Options{
		CommonName:     "leaf.example.com",
		PolicyOIDs:     []asn1.ObjectIdentifier{{2, 23, 140, 1, 2, 1}},
		PolicyCritical: true,
	})

	root := wrap(t, h.side, rootSigned)
	leaf := wrap(t, h.side, leafSigned)
	h.issuers.Add(root)
	trustRoot(h, root, false)

	// Checker built with no admin policy file configured: a critical
	// policy with nothing to match against is a fatal-turned-soft
	// noPolicyMatch per policy.Checker's own semantics.
	v := New(h.issuers, h.revocation, policy.New("", nil), h.trust, extcheck.New(nil), caconstraint.New(nil), h.qualified, Config{}, nil)
	res := v.Validate(context.Background(), NewSession(), &core.ValidationRequest{Target: leaf, Now: time.Now()})
	if res.ErrorKind != core.NoPolicyMatch {
		t.Fatalf("expected NoPolicyMatch, got %s", res.ErrorKind)
	}
}

func TestValidateMissingIssuer(t *testing.T) {
	h := newHarness()
	rootSigned := testcerts.SelfSigned(testcerts.Options{CommonName: "Root CA", IsCA: true})
	leafSigned := testcerts.IssuedBy(rootSigned, testcerts.Options{CommonName: "leaf.example.com"})
	leaf := wrap(t, h.side, leafSigned)
	// root is deliberately never added to h.issuers.

	v := h.validator(Config{})
	res := v.Validate(context.Background(), NewSession(), &core.ValidationRequest{Target: leaf, Now: time.Now()})
	if res.ErrorKind != core.MissingCert {
		t.Fatalf("expected MissingCert, got %s", res.ErrorKind)
	}
}

func TestValidatePathLengthOverflow(t *testing.T) {
	h := newHarness()
	rootSigned := testcerts.SelfSigned(testcerts.Options{
		CommonName: "Root CA", IsCA: true,
		PathLenConstraintSet: true, PathLenConstraint: 0,
	})
	intermediateSigned := testcerts.IssuedBy(rootSigned, testcerts.Options{
		CommonName: "Intermediate CA", IsCA: true, SerialNumber: 5,
	})
	leafSigned := testcerts.IssuedBy(intermediateSigned, testcerts.Options{CommonName: "leaf.example.com"})

	root := wrap(t, h.side, rootSigned)
	intermediate := wrap(t, h.side, intermediateSigned)
	leaf := wrap(t, h.side, leafSigned)
	h.issuers.Add(intermediate).Add(root)
	trustRoot(h, root, false)

	v := h.validator(Config{})
	res := v.Validate(context.Background(), NewSession(), &core.ValidationRequest{Target: leaf, Now: time.Now()})
	if res.ErrorKind != core.BadCertChain {
		t.Fatalf("expected BadCertChain, got %s", res.ErrorKind)
	}
}

func TestValidateUntrustedRootInteractivePromotion(t *testing.T) {
	h := newHarness()
	root := wrap(t, h.side, testcerts.SelfSigned(testcerts.Options{CommonName: "New Root", IsCA: true}))
	h.trust.PromptResult = trustanchor.MarkOK

	v := h.validator(Config{})
	res := v.Validate(context.Background(), NewSession(), &core.ValidationRequest{Target: root, Now: time.Now()})
	if res.ErrorKind != core.OK {
		t.Fatalf("expected OK after trust promotion, got %s", res.ErrorKind)
	}
	if len(h.trust.Prompted) != 1 {
		t.Fatalf("expected exactly one prompt, got %d", len(h.trust.Prompted))
	}
}

func TestValidateUntrustedRootPromotionCancelledIsFatal(t *testing.T) {
	h := newHarness()
	root := wrap(t, h.side, testcerts.SelfSigned(testcerts.Options{CommonName: "New Root", IsCA: true}))
	h.trust.PromptResult = trustanchor.MarkCancelled

	v := h.validator(Config{})
	res := v.Validate(context.Background(), NewSession(), &core.ValidationRequest{Target: root, Now: time.Now()})
	if res.ErrorKind != core.NotTrusted {
		t.Fatalf("expected NotTrusted, got %s", res.ErrorKind)
	}
}

func TestValidateUntrustedRootNotReaskedAfterCancel(t *testing.T) {
	h := newHarness()
	root := wrap(t, h.side, testcerts.SelfSigned(testcerts.Options{CommonName: "New Root", IsCA: true}))
	h.trust.PromptResult = trustanchor.MarkCancelled

	v := h.validator(Config{})
	sess := NewSession()
	v.Validate(context.Background(), sess, &core.ValidationRequest{Target: root, Now: time.Now()})
	res := v.Validate(context.Background(), sess, &core.ValidationRequest{Target: root, Now: time.Now()})
	if res.ErrorKind != core.NotTrusted {
		t.Fatalf("expected NotTrusted, got %s", res.ErrorKind)
	}
	if len(h.trust.Prompted) != 1 {
		t.Fatalf("expected prompting to be disabled after first cancel, got %d prompts", len(h.trust.Prompted))
	}
}

func TestValidateNoChainValidationBypass(t *testing.T) {
	h := newHarness()
	leaf := wrap(t, h.side, testcerts.SelfSigned(testcerts.Options{CommonName: "anything"}))

	v := h.validator(Config{NoChainValidation: true})
	res := v.Validate(context.Background(), NewSession(), &core.ValidationRequest{Target: leaf, Now: time.Now()})
	if res.ErrorKind != core.OK {
		t.Fatalf("expected OK bypass, got %s", res.ErrorKind)
	}
}

// TestValidateRevocationPriorityOverExpiredAndPolicy exercises the
// soft-error collapse priority from spec §7: revoked outranks expired
// and noPolicyMatch even when all three accumulate on the same chain.
func TestValidateRevocationPriorityOverExpiredAndPolicy(t *testing.T) {
	h := newHarness()
	rootSigned := testcerts.SelfSigned(testcerts.Options{CommonName: "Root CA", IsCA: true})
	leafSigned := testcerts.IssuedBy(rootSigned, testcerts.Options{
		CommonName:     "leaf.example.com",
		NotAfter:       time.Now().Add(-1 * time.Hour), // already expired
		PolicyOIDs:     []asn1.ObjectIdentifier{{2, 23, 140, 1, 2, 1}},
		PolicyCritical: true,
	})

	root := wrap(t, h.side, rootSigned)
	leaf := wrap(t, h.side, leafSigned)
	h.issuers.Add(root)
	trustRoot(h, root, false)
	h.revocation.SetFor(leaf, cverrors.New(cverrors.CertRevoked, "revoked"))

	v := h.validator(Config{})
	res := v.Validate(context.Background(), NewSession(), &core.ValidationRequest{Target: leaf, Now: time.Now()})
	if res.ErrorKind != core.CertRevoked {
		t.Fatalf("expected CertRevoked to take priority, got %s", res.ErrorKind)
	}
}
