// Package fakes provides minimal in-memory stand-ins for
// chainvalidator's collaborator interfaces, used only in tests so the
// state machine can be exercised without a database, HTTP dirmngr, or
// a real TTY.
package fakes

import (
	"context"

	"github.com/pki-tools/chainvalidator/certview"
	"github.com/pki-tools/chainvalidator/core"
	"github.com/pki-tools/chainvalidator/qualified"
	"github.com/pki-tools/chainvalidator/trustanchor"
)

// Issuers is a fake IssuerResolver backed by an ordered candidate list
// per issuer DN, so tests can model the "first candidate has a bad
// signature, second verifies" scenario via findNext.
type Issuers struct {
	byDN map[string][]*certview.Certificate
}

func NewIssuers() *Issuers {
	return &Issuers{byDN: make(map[string][]*certview.Certificate)}
}

// Add registers cert as a candidate issuer under its own subject DN.
func (f *Issuers) Add(cert *certview.Certificate) *Issuers {
	dn := cert.SubjectDN()
	f.byDN[dn] = append(f.byDN[dn], cert)
	return f
}

func (f *Issuers) FindUp(ctx context.Context, subject *certview.Certificate, issuerDN string, findNext bool) (*certview.Certificate, bool, error) {
	candidates := f.byDN[issuerDN]
	if len(candidates) == 0 {
		return nil, false, nil
	}
	if !findNext {
		return candidates[0], true, nil
	}
	if len(candidates) < 2 {
		return nil, false, nil
	}
	return candidates[1], true, nil
}

// Revocation is a fake RevocationOracle returning a fixed error (nil
// for "good") regardless of which certificate is asked about, plus an
// optional per-fingerprint override.
type Revocation struct {
	Default  error
	override map[[32]byte]error
}

func NewRevocation(defaultErr error) *Revocation {
	return &Revocation{Default: defaultErr, override: make(map[[32]byte]error)}
}

func (f *Revocation) SetFor(cert *certview.Certificate, err error) {
	f.override[cert.Fingerprint()] = err
}

func (f *Revocation) IsStillValid(ctx context.Context, subject, issuer *certview.Certificate, useOCSP bool) error {
	if err, ok := f.override[subject.Fingerprint()]; ok {
		return err
	}
	return f.Default
}

// Trust is a fake TrustAnchorService. Verdicts is keyed by SHA-256 DER
// fingerprint hex; PromptResult controls MarkTrustedInteractive.
type Trust struct {
	Verdicts     map[string]core.RootCAFlags
	PromptResult trustanchor.MarkResult
	PromptErr    error
	Prompted     []string
}

func NewTrust() *Trust {
	return &Trust{Verdicts: make(map[string]core.RootCAFlags), PromptResult: trustanchor.MarkCancelled}
}

func (f *Trust) SetVerdict(cert *certview.Certificate, flags core.RootCAFlags) {
	f.Verdicts[cert.FingerprintHex()] = flags
}

func (f *Trust) IsTrusted(root *certview.Certificate) (core.RootCAFlags, error) {
	if rf, ok := f.Verdicts[root.FingerprintHex()]; ok {
		return rf, nil
	}
	return core.RootCAFlags{Verdict: core.TrustUnknown}, nil
}

func (f *Trust) MarkTrustedInteractive(ctx context.Context, root *certview.Certificate) (trustanchor.MarkResult, error) {
	f.Prompted = append(f.Prompted, root.FingerprintHex())
	if f.PromptResult == trustanchor.MarkOK {
		f.Verdicts[root.FingerprintHex()] = core.RootCAFlags{Verdict: core.TrustOK}
	}
	return f.PromptResult, f.PromptErr
}

// Qualified is a fake QualifiedSigClassifier returning a fixed
// Decision for every root.
type Qualified struct {
	Decision qualified.Decision
}

func (f *Qualified) ClassifyRoot(root *certview.Certificate) qualified.Decision {
	return f.Decision
}
