// Package chainvalidator implements ChainValidator: the chain-building
// and chain-validation state machine that orchestrates every other
// collaborator in this module into a single verdict.
package chainvalidator

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pki-tools/chainvalidator/certview"
	"github.com/pki-tools/chainvalidator/core"
	"github.com/pki-tools/chainvalidator/ctlog"
	cverrors "github.com/pki-tools/chainvalidator/errors"
	"github.com/pki-tools/chainvalidator/goodkey"
	"github.com/pki-tools/chainvalidator/lint"
	blog "github.com/pki-tools/chainvalidator/log"
	"github.com/pki-tools/chainvalidator/qualified"
	"github.com/pki-tools/chainvalidator/trustanchor"
)

// Validator implements ChainValidator.Validate (spec §4.1).
type Validator struct {
	issuers    IssuerResolver
	revocation RevocationOracle
	policy     PolicyChecker
	trust      TrustAnchorService
	extCheck   CriticalExtCheck
	caCheck    CAConstraintCheck
	qualified  QualifiedSigClassifier
	cfg        Config
	log        blog.Logger
	ctlog      *ctlog.Checker
	goodkey    *goodkey.List
}

// Option customizes a Validator beyond its required collaborators.
type Option func(*Validator)

// WithCTLogs enables the embedded-SCT diagnostic against a set of known
// logs; callers that pass none still get HasEmbeddedSCTs/SCTCount
// reporting with no signature verification attempted.
func WithCTLogs(logs []*ctlog.Log) Option {
	return func(v *Validator) { v.ctlog = ctlog.New(logs) }
}

// WithWeakKeyList enables the weak-RSA-modulus/ROCA diagnostic against
// list; callers that don't set this still get the ROCA check alone,
// since goodkey.List.Diagnose runs it unconditionally.
func WithWeakKeyList(list *goodkey.List) Option {
	return func(v *Validator) { v.goodkey = list }
}

// New builds a Validator from its collaborators. log may be nil.
func New(
	issuers IssuerResolver,
	revocation RevocationOracle,
	policy PolicyChecker,
	trust TrustAnchorService,
	extCheck CriticalExtCheck,
	caCheck CAConstraintCheck,
	qualifiedClassifier QualifiedSigClassifier,
	cfg Config,
	log blog.Logger,
	opts ...Option,
) *Validator {
	v := &Validator{
		issuers:    issuers,
		revocation: revocation,
		policy:     policy,
		trust:      trust,
		extCheck:   extCheck,
		caCheck:    caCheck,
		qualified:  qualifiedClassifier,
		cfg:        cfg.withDefaults(),
		log:        log,
		ctlog:      ctlog.New(nil),
		goodkey:    &goodkey.List{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// accumulators holds the per-call soft-error and bookkeeping state
// spec §4.1 lists as "state variables per call".
type accumulators struct {
	depth                                                            int
	anyExpired, anyRevoked, anyNoCRL, anyCRLTooOld, anyNoPolicyMatch bool
	isQualified                                                      qualified.Decision
	haveExptime                                                      bool
	exptime                                                          time.Time
}

func (a *accumulators) noteNotAfter(t time.Time) {
	if t.IsZero() {
		return
	}
	if !a.haveExptime || t.Before(a.exptime) {
		a.exptime = t
		a.haveExptime = true
	}
}

func (a *accumulators) exptimeISO() string {
	if !a.haveExptime {
		return ""
	}
	return a.exptime.UTC().Format(time.RFC3339)
}

// Validate runs the full chain-building and validation state machine
// against req.Target, starting fresh accumulator state each call.
func (v *Validator) Validate(ctx context.Context, sess *Session, req *core.ValidationRequest) core.ValidationResult {
	if v.cfg.NoChainValidation && !req.ListMode {
		if v.log != nil {
			v.log.Warning("chain validation bypassed by configuration (noChainValidation)")
		}
		return core.ValidationResult{ErrorKind: core.OK}
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	st := &accumulators{isQualified: qualified.Unknown}
	subject := req.Target

	for {
		issuerDN := subject.IssuerDN()
		subjectDN := subject.SubjectDN()
		if issuerDN == "" {
			return v.fatal(st, req, cverrors.BadCertError("certificate %s carries no issuer DN", subjectDN))
		}
		isRoot := issuerDN == subjectDN

		var rootFlags core.RootCAFlags
		if isRoot {
			rf, err := v.trust.IsTrusted(subject)
			if err != nil {
				return v.fatal(st, req, cverrors.New(cverrors.General, "trust anchor lookup failed: %v", err))
			}
			rootFlags = rf
		}

		st.noteNotAfter(subject.NotAfter())
		if now.Before(subject.NotBefore()) {
			return v.fatal(st, req, cverrors.New(cverrors.CertTooYoung, "certificate %s is not yet valid", subjectDN))
		}
		if now.After(subject.NotAfter()) {
			if v.cfg.IgnoreExpiration {
				if v.log != nil {
					v.log.Warning("certificate " + subjectDN + " has expired; ignoring per configuration")
				}
			} else {
				st.anyExpired = true
			}
		}

		if err := v.extCheck.Check(subject); err != nil {
			return v.fatal(st, req, err)
		}

		if req.ListMode && req.Output != nil {
			v.writeDiagnostics(req.Output, subject)
		}

		if !v.cfg.NoPolicyCheck {
			if err := v.policy.Check(subject); err != nil {
				if cverrors.KindOf(err) == cverrors.NoPolicyMatch {
					st.anyNoPolicyMatch = true
				} else {
					return v.fatal(st, req, err)
				}
			}
		}

		if isRoot {
			return v.finishAtRoot(ctx, sess, req, st, subject, rootFlags, now)
		}

		next, err := v.ascend(ctx, req, st, subject, issuerDN)
		if err != nil {
			return v.fatal(st, req, err)
		}
		subject = next
	}
}

// finishAtRoot implements the isRoot branch of spec §4.1 step 7, and
// always terminates the loop (a self-signed root is the chain end).
func (v *Validator) finishAtRoot(
	ctx context.Context,
	sess *Session,
	req *core.ValidationRequest,
	st *accumulators,
	root *certview.Certificate,
	rootFlags core.RootCAFlags,
	now time.Time,
) core.ValidationResult {
	if rootFlags.Verdict != core.TrustOK {
		if err := verifySelfSignature(root); err != nil {
			kind := cverrors.BadCertChain
			if st.depth == 0 {
				kind = cverrors.BadCert
			}
			return v.fatal(st, req, cverrors.New(kind, "root %s failed self-signature verification: %v", root.SubjectDN(), err))
		}
	}

	if !rootFlags.Flags.Relax {
		if _, err := v.caCheck.AllowedCA(root); err != nil {
			return v.fatal(st, req, cverrors.New(cverrors.BadCert, "root %s: %v", root.SubjectDN(), err))
		}
	}

	if st.isQualified == qualified.Unknown {
		st.isQualified = v.qualified.ClassifyRoot(root)
	}

	switch rootFlags.Verdict {
	case core.TrustOK:
		// continue to revocation below
	case core.TrustUnknown:
		// Never evaluated before: this is the "ask the operator" case.
		if outcome := v.handleNotTrusted(ctx, sess, req, st, root); outcome != nil {
			return *outcome
		}
	default:
		// TrustNotTrusted: a verdict was explicitly recorded against
		// this root. No prompting; an explicit "no" stays a "no".
		return v.fatal(st, req, cverrors.New(cverrors.NotTrusted, "root %s is recorded as not trusted", root.SubjectDN()))
	}

	if !(req.Flags.SkipRevocation() || v.cfg.NoTrustedCertCRLCheck || rootFlags.Flags.Relax) {
		if err := v.checkRevocation(req, st, root, root); err != nil {
			return v.fatal(st, req, err)
		}
	}

	return v.finalResult(req, st)
}

// handleNotTrusted implements the notTrusted sub-case of step 7,
// including the interactive promotion prompt. Returns a non-nil
// *ValidationResult when the loop must terminate immediately (the
// prompt path failed or was skipped); nil means "treat as trusted,
// proceed to revocation".
func (v *Validator) handleNotTrusted(ctx context.Context, sess *Session, req *core.ValidationRequest, st *accumulators, root *certview.Certificate) *core.ValidationResult {
	if v.log != nil {
		v.log.Info("root " + root.SubjectDN() + " is not in the trusted set")
	}

	fp := root.FingerprintSHA1Hex()
	alreadyAsked := sess != nil && sess.alreadyAsked(fp)
	promptsDisabled := sess != nil && sess.promptsDisabled()
	mayPrompt := !st.anyExpired && (!req.ListMode || !alreadyAsked) && !promptsDisabled

	if !mayPrompt {
		res := v.fatal(st, req, cverrors.New(cverrors.NotTrusted, "root %s is not trusted", root.SubjectDN()))
		return &res
	}

	result, err := v.trust.MarkTrustedInteractive(ctx, root)
	if sess != nil {
		sess.markAsked(fp)
	}
	if err != nil {
		res := v.fatal(st, req, cverrors.New(cverrors.NotTrusted, "interactive trust promotion failed for root %s: %v", root.SubjectDN(), err))
		return &res
	}

	switch result {
	case trustanchor.MarkOK:
		return nil
	case trustanchor.MarkNotSupported, trustanchor.MarkCancelled:
		if sess != nil {
			sess.disablePrompts()
		}
		res := v.fatal(st, req, cverrors.New(cverrors.NotTrusted, "root %s was not marked trusted", root.SubjectDN()))
		return &res
	default:
		res := v.fatal(st, req, cverrors.New(cverrors.NotTrusted, "root %s was not marked trusted", root.SubjectDN()))
		return &res
	}
}

// ascend implements the non-root branch of spec §4.1 step 8: resolve
// the issuer, verify the signature with bounded retry, enforce CA
// constraints and path length, check issuer key usage, and run
// revocation. Returns the issuer to promote subject to.
func (v *Validator) ascend(ctx context.Context, req *core.ValidationRequest, st *accumulators, subject *certview.Certificate, issuerDN string) (*certview.Certificate, error) {
	st.depth++
	if st.depth > core.MaxDepth {
		return nil, cverrors.New(cverrors.BadCertChain, "chain depth exceeded %d", core.MaxDepth)
	}

	issuer, found, err := v.issuers.FindUp(ctx, subject, issuerDN, false)
	if err != nil {
		return nil, cverrors.New(cverrors.General, "issuer lookup failed: %v", err)
	}
	if !found {
		return nil, cverrors.New(cverrors.MissingCert, "no issuer certificate found for %s", subject.SubjectDN())
	}

	issuer, err = v.verifyWithRetry(ctx, subject, issuer, issuerDN)
	if err != nil {
		return nil, err
	}

	chainLen, caErr := v.caCheck.AllowedCA(issuer)
	if caErr != nil {
		if relaxed := v.relaxedTrustedRoot(issuer); relaxed {
			chainLen = -1
		} else {
			return nil, cverrors.New(cverrors.BadCertChain, "issuer %s: %v", issuer.SubjectDN(), caErr)
		}
	}
	if chainLen >= 0 && (st.depth-1) > chainLen {
		return nil, cverrors.New(cverrors.BadCertChain, "path length constraint of %d exceeded below issuer %s", chainLen, issuer.SubjectDN())
	}

	if !req.ListMode {
		if !keyUsageAllowsCertSign(issuer) {
			return nil, cverrors.New(cverrors.BadCertChain, "issuer %s is not permitted by key usage to sign certificates", issuer.SubjectDN())
		}
	}

	skip := req.Flags.SkipRevocation() || v.relaxedTrustedRoot(issuer)
	if !skip {
		if err := v.checkRevocation(req, st, subject, issuer); err != nil {
			return nil, err
		}
	}

	return issuer, nil
}

// verifyWithRetry implements the try_another_cert loop from spec §4.1
// step 8 and the bounded-retry design note from §9.
func (v *Validator) verifyWithRetry(ctx context.Context, subject, issuer *certview.Certificate, issuerDN string) (*certview.Certificate, error) {
	err := verifySignature(issuer, subject)
	if err == nil {
		return issuer, nil
	}

	for attempt := 0; attempt < v.cfg.MaxBadSignatureRetries; attempt++ {
		next, found, findErr := v.issuers.FindUp(ctx, subject, issuerDN, true)
		if findErr != nil {
			return nil, cverrors.New(cverrors.General, "issuer retry lookup failed: %v", findErr)
		}
		if !found || certview.SameDER(next, issuer) {
			return nil, cverrors.New(cverrors.BadCertChain, "no alternate issuer verifies signature for %s", subject.SubjectDN())
		}
		issuer = next
		if err = verifySignature(issuer, subject); err == nil {
			return issuer, nil
		}
	}
	return nil, cverrors.New(cverrors.BadCertChain, "exhausted signature retries for %s", subject.SubjectDN())
}

// relaxedTrustedRoot reports whether cert is a root with a trusted,
// relax-flagged verdict — the CA-constraint-error exception from step
// 8, and the revocation-skip exception from the same step.
func (v *Validator) relaxedTrustedRoot(cert *certview.Certificate) bool {
	if !cert.IsRoot() {
		return false
	}
	rf, err := v.trust.IsTrusted(cert)
	if err != nil {
		return false
	}
	return rf.Verdict == core.TrustOK && rf.Flags.Relax
}

// checkRevocation runs RevocationOracle and folds the result into the
// soft accumulators, or returns a fatal error for anything else.
func (v *Validator) checkRevocation(req *core.ValidationRequest, st *accumulators, subject, issuer *certview.Certificate) error {
	if v.cfg.NoCRLCheck && !v.cfg.UseOCSP {
		return nil
	}
	err := v.revocation.IsStillValid(context.Background(), subject, issuer, v.cfg.UseOCSP)
	if err == nil {
		return nil
	}
	switch cverrors.KindOf(err) {
	case cverrors.CertRevoked:
		st.anyRevoked = true
		return nil
	case cverrors.NoCRL:
		st.anyNoCRL = true
		return nil
	case cverrors.CRLTooOld:
		st.anyCRLTooOld = true
		return nil
	default:
		return err
	}
}

// writeDiagnostics emits the non-gating lint and CT findings spec §7
// describes as bracketed listMode lines; neither source can change
// errorKind.
func (v *Validator) writeDiagnostics(out io.Writer, cert *certview.Certificate) {
	for _, finding := range lint.Run(cert) {
		fmt.Fprintf(out, "[lint] %s: %s %s\n", finding.LintName, finding.Status, finding.Details)
	}

	if v.goodkey != nil {
		if warning := v.goodkey.Diagnose(cert.SubjectPublicKeyInfo()); warning != "" {
			fmt.Fprintf(out, "[goodkey] %s: %s\n", cert.SubjectDN(), warning)
		}
	}

	if v.ctlog == nil {
		return
	}
	report := v.ctlog.Check(cert)
	if !report.HasEmbeddedSCTs {
		fmt.Fprintf(out, "[ctlog] %s: no embedded SCTs\n", cert.SubjectDN())
		return
	}
	fmt.Fprintf(out, "[ctlog] %s: %d embedded SCT(s), verified against %v\n", cert.SubjectDN(), report.SCTCount, report.VerifiedAgainst)
}

func (v *Validator) fatal(st *accumulators, req *core.ValidationRequest, err error) core.ValidationResult {
	if v.log != nil {
		v.log.AuditErr(err.Error())
	}
	return core.ValidationResult{ErrorKind: cverrors.KindOf(err), NearestNotAfter: st.exptimeISO()}
}

func (v *Validator) finalResult(req *core.ValidationRequest, st *accumulators) core.ValidationResult {
	kind := cverrors.CollapseSoft(st.anyRevoked, st.anyExpired, st.anyNoCRL, st.anyCRLTooOld, st.anyNoPolicyMatch)
	if st.isQualified != qualified.Unknown {
		qualified.CacheOnTarget(req.Target, st.isQualified)
	}
	return core.ValidationResult{ErrorKind: kind, NearestNotAfter: st.exptimeISO()}
}
