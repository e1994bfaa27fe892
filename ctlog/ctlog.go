// Package ctlog adds a non-gating Certificate Transparency diagnostic
// to the engine: whether a certificate carries an embedded SCT list,
// and, for configured logs, whether at least one SCT verifies against
// that log's known public key. Adapted from the CT submission
// verifier in the teacher's publisher package, run here in reverse:
// checking a certificate an operator already holds, not submitting a
// freshly issued one.
//
// Spec.md names errorKind as the only gating outcome; CT presence is
// explicitly out of band from it; ChainValidator surfaces this as a
// listMode note only.
package ctlog

import (
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"fmt"

	ct "github.com/google/certificate-transparency-go"
	"github.com/google/certificate-transparency-go/tls"

	"github.com/pki-tools/chainvalidator/certview"
)

// oidEmbeddedSCTList is the embedded-SCT-list X.509v3 extension OID,
// RFC 6962 section 3.3.
var oidEmbeddedSCTList = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 4, 2}

// Log pairs a CT log's identity with its verifying public key, the way
// the teacher's publisher.Log pairs a submission client with one.
type Log struct {
	Name     string
	verifier *ct.SignatureVerifier
}

// NewLog parses a base64-encoded DER public key for a known log.
func NewLog(name, b64PK string) (*Log, error) {
	pkBytes, err := base64.StdEncoding.DecodeString(b64PK)
	if err != nil {
		return nil, fmt.Errorf("ctlog: failed to decode log public key for %s: %w", name, err)
	}
	pk, err := x509.ParsePKIXPublicKey(pkBytes)
	if err != nil {
		return nil, fmt.Errorf("ctlog: failed to parse log public key for %s: %w", name, err)
	}
	verifier, err := ct.NewSignatureVerifier(pk)
	if err != nil {
		return nil, fmt.Errorf("ctlog: failed to build verifier for %s: %w", name, err)
	}
	return &Log{Name: name, verifier: verifier}, nil
}

// Report is the diagnostic outcome for one certificate.
type Report struct {
	HasEmbeddedSCTs bool
	SCTCount        int
	VerifiedAgainst []string // log names whose signature verified
}

// Checker evaluates a certificate's CT posture against a configured
// set of known logs.
type Checker struct {
	logs []*Log
}

func New(logs []*Log) *Checker {
	return &Checker{logs: logs}
}

// Check extracts the embedded SCT list extension, if present, and
// attempts verification against every configured log. It never
// returns an error that should block validation: a malformed SCT list
// is reported as HasEmbeddedSCTs == true, SCTCount == 0.
func (c *Checker) Check(cert *certview.Certificate) Report {
	var report Report

	var raw []byte
	for _, ext := range cert.Extensions() {
		if ext.OID.Equal(oidEmbeddedSCTList) {
			raw = ext.Value
			break
		}
	}
	if raw == nil {
		return report
	}
	report.HasEmbeddedSCTs = true

	// The extension's value is itself a DER OCTET STRING wrapping the
	// TLS-encoded SignedCertificateTimestampList (RFC 6962 §3.3); strip
	// that outer encoding before handing the bytes to the TLS decoder.
	var inner []byte
	if _, err := asn1.Unmarshal(raw, &inner); err != nil {
		return report
	}

	var sctList ct.SignedCertificateTimestampList
	if _, err := tls.Unmarshal(inner, &sctList); err != nil {
		return report
	}
	report.SCTCount = len(sctList.SCTList)

	for _, entry := range sctList.SCTList {
		var sct ct.SignedCertificateTimestamp
		if _, err := tls.Unmarshal(entry.Val, &sct); err != nil {
			continue
		}
		for _, log := range c.logs {
			leaf := ct.LogEntry{
				Leaf: ct.MerkleTreeLeaf{
					LeafType: ct.TimestampedEntryLeafType,
					TimestampedEntry: ct.TimestampedEntry{
						X509Entry: ct.ASN1Cert(cert.RawDER()),
						EntryType: ct.X509LogEntryType,
					},
				},
			}
			if log.verifier.VerifySCTSignature(sct, leaf) == nil {
				report.VerifiedAgainst = append(report.VerifiedAgainst, log.Name)
			}
		}
	}

	return report
}
