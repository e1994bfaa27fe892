package ctlog

import (
	"testing"

	"github.com/pki-tools/chainvalidator/certview"
	"github.com/pki-tools/chainvalidator/internal/testcerts"
)

func TestCheckNoEmbeddedSCTs(t *testing.T) {
	der := testcerts.SelfSigned(testcerts.Options{CommonName: "No SCT Here"}).DER
	cert, err := certview.New(der, certview.NewSideData())
	if err != nil {
		t.Fatalf("failed to build test certificate: %v", err)
	}

	checker := New(nil)
	report := checker.Check(cert)
	if report.HasEmbeddedSCTs {
		t.Error("expected HasEmbeddedSCTs false for a certificate with no SCT extension")
	}
	if report.SCTCount != 0 {
		t.Errorf("expected SCTCount 0, got %d", report.SCTCount)
	}
}
