// Package lint runs RFC 5280 conformance checks over a certificate
// using zlint, surfacing results as listMode diagnostics. Like ctlog,
// this never gates the validation verdict: spec.md's errorKind has no
// slot for "technically malformed but otherwise valid" findings.
package lint

import (
	"github.com/zmap/zlint/v3"
	"github.com/zmap/zlint/v3/lint"

	"github.com/pki-tools/chainvalidator/certview"
)

// Finding is one zlint result worth surfacing: anything that isn't a
// pass or not-applicable.
type Finding struct {
	LintName string
	Status   string
	Details  string
}

// Run lints cert against the default zlint registry and returns every
// finding that isn't Pass or NA.
func Run(cert *certview.Certificate) []Finding {
	results := zlint.LintCertificateEx(cert.Raw(), lint.GlobalRegistry())
	if results == nil {
		return nil
	}

	var findings []Finding
	for name, res := range results.Results {
		if res == nil {
			continue
		}
		switch res.Status {
		case lint.Pass, lint.NA:
			continue
		default:
			findings = append(findings, Finding{
				LintName: name,
				Status:   res.Status.String(),
				Details:  res.Details,
			})
		}
	}
	return findings
}
