// Package trustanchor implements TrustAnchorService: durable trust
// verdicts for root certificates, interactive "mark trusted" promotion
// at a TTY, and qualified-signature-list membership lookup.
package trustanchor

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/letsencrypt/borp"
	"golang.org/x/term"

	"github.com/pki-tools/chainvalidator/certview"
	"github.com/pki-tools/chainvalidator/core"
	"github.com/pki-tools/chainvalidator/qualified"
)

// trustRow is the gorp-mapped row for a root's recorded trust verdict.
type trustRow struct {
	Fingerprint string `db:"fingerprint"`
	Verdict     int    `db:"verdict"`
	Relax       bool   `db:"relax"`
}

// MarkResult is the outcome of an interactive trust prompt.
type MarkResult int

const (
	MarkErr MarkResult = iota
	MarkOK
	MarkNotSupported
	MarkCancelled
)

// Service implements TrustAnchorService.
type Service struct {
	db        *borp.DbMap
	qualified *qualified.List
	in        io.Reader
	out       io.Writer
	isTTY     func() bool
}

// New builds a Service backed by db (the trust-verdict table) and
// list (the qualified-root list). A nil db disables persistence:
// IsTrusted always answers TrustUnknown and interactive promotion
// always returns MarkNotSupported.
func New(db *borp.DbMap, list *qualified.List) *Service {
	return &Service{
		db:        db,
		qualified: list,
		in:        os.Stdin,
		out:       os.Stderr,
		isTTY: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd()))
		},
	}
}

// IsTrusted implements isTrusted(root) -> (verdict, flags).
func (s *Service) IsTrusted(root *certview.Certificate) (core.RootCAFlags, error) {
	if s.db == nil {
		return core.RootCAFlags{Verdict: core.TrustUnknown}, nil
	}

	var row trustRow
	err := s.db.SelectOne(&row, "SELECT * FROM trust_anchors WHERE fingerprint = ?", root.FingerprintHex())
	if err == sql.ErrNoRows {
		return core.RootCAFlags{Verdict: core.TrustUnknown}, nil
	}
	if err != nil {
		return core.RootCAFlags{}, fmt.Errorf("trustanchor: IsTrusted: %w", err)
	}

	return core.RootCAFlags{
		Verdict: core.TrustVerdict(row.Verdict),
		Flags:   core.TrustAnchorFlags{Relax: row.Relax},
	}, nil
}

// MarkTrustedInteractive implements markTrustedInteractive(root) ->
// ok | notSupported | cancelled | err: prompts an operator at a TTY to
// promote root to a trusted anchor, the way gpgsm asks before trusting
// an unknown root the first time it's encountered.
func (s *Service) MarkTrustedInteractive(ctx context.Context, root *certview.Certificate) (MarkResult, error) {
	if s.db == nil || !s.isTTY() {
		return MarkNotSupported, nil
	}

	fmt.Fprintf(s.out, "Root certificate is not trusted:\n  Subject: %s\n  Fingerprint: %s\n",
		root.SubjectDN(), root.FingerprintHex())
	fmt.Fprint(s.out, "Mark this root as trusted? (y/N): ")

	reader := bufio.NewReader(s.in)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return MarkErr, fmt.Errorf("trustanchor: failed to read operator response: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		if err := s.setVerdict(root, core.TrustOK, core.TrustAnchorFlags{}); err != nil {
			return MarkErr, err
		}
		return MarkOK, nil
	default:
		return MarkCancelled, nil
	}
}

func (s *Service) setVerdict(root *certview.Certificate, verdict core.TrustVerdict, flags core.TrustAnchorFlags) error {
	row := &trustRow{
		Fingerprint: root.FingerprintHex(),
		Verdict:     int(verdict),
		Relax:       flags.Relax,
	}
	if err := s.db.Insert(row); err != nil {
		_, err = s.db.Exec("UPDATE trust_anchors SET verdict = ?, relax = ? WHERE fingerprint = ?",
			int(verdict), flags.Relax, root.FingerprintHex())
		return err
	}
	return nil
}

// IsInQualifiedList implements isInQualifiedList(root) -> ok | notFound
// | err.
func (s *Service) IsInQualifiedList(root *certview.Certificate) qualified.LookupResult {
	if s.qualified == nil {
		return qualified.LookupErr
	}
	return s.qualified.IsInQualifiedList(root)
}
