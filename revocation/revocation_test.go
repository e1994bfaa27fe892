package revocation

import (
	"context"
	"crypto/x509"
	"testing"

	"github.com/pki-tools/chainvalidator/certview"
	"github.com/pki-tools/chainvalidator/dirmngr"
	cverrors "github.com/pki-tools/chainvalidator/errors"
	"github.com/pki-tools/chainvalidator/internal/testcerts"
)

type fakeChecker struct {
	status dirmngr.RevocationStatus
	err    error
}

func (f *fakeChecker) IsValid(ctx context.Context, subject, issuer *x509.Certificate, useOCSP bool) (dirmngr.RevocationStatus, error) {
	return f.status, f.err
}

type fakeCache struct {
	called bool
}

func (f *fakeCache) SetRevoked(subject *certview.Certificate) error {
	f.called = true
	return nil
}

func testCert(t *testing.T) *certview.Certificate {
	t.Helper()
	der := testcerts.SelfSigned(testcerts.Options{CommonName: "Test Root"}).DER
	c, err := certview.New(der, certview.NewSideData())
	if err != nil {
		t.Fatalf("failed to build test certificate: %v", err)
	}
	return c
}

func TestIsStillValidGood(t *testing.T) {
	o := New(&fakeChecker{status: dirmngr.StatusGood}, nil, false)
	cert := testCert(t)
	if err := o.IsStillValid(context.Background(), cert, cert, false); err != nil {
		t.Errorf("expected nil error for good status, got %v", err)
	}
}

func TestIsStillValidRevokedSetsCache(t *testing.T) {
	cache := &fakeCache{}
	o := New(&fakeChecker{status: dirmngr.StatusRevoked}, cache, false)
	cert := testCert(t)
	err := o.IsStillValid(context.Background(), cert, cert, false)
	if cverrors.KindOf(err) != cverrors.CertRevoked {
		t.Errorf("expected CertRevoked, got %v", err)
	}
	if !cache.called {
		t.Error("expected SetRevoked to be called on revoked status")
	}
}

func TestIsStillValidNoCRLCheckSkipsNonOCSP(t *testing.T) {
	o := New(&fakeChecker{status: dirmngr.StatusRevoked}, nil, true)
	cert := testCert(t)
	if err := o.IsStillValid(context.Background(), cert, cert, false); err != nil {
		t.Errorf("expected skip (nil error) when noCRLCheck is set and useOCSP is false, got %v", err)
	}
}

func TestIsStillValidNoCRL(t *testing.T) {
	o := New(&fakeChecker{status: dirmngr.StatusNoCRL}, nil, false)
	cert := testCert(t)
	err := o.IsStillValid(context.Background(), cert, cert, false)
	if cverrors.KindOf(err) != cverrors.NoCRL {
		t.Errorf("expected NoCRL, got %v", err)
	}
}

func TestIsStillValidCRLTooOld(t *testing.T) {
	o := New(&fakeChecker{status: dirmngr.StatusCRLTooOld}, nil, false)
	cert := testCert(t)
	err := o.IsStillValid(context.Background(), cert, cert, false)
	if cverrors.KindOf(err) != cverrors.CRLTooOld {
		t.Errorf("expected CRLTooOld, got %v", err)
	}
}
