package trustanchor

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/letsencrypt/borp"

	"github.com/pki-tools/chainvalidator/certview"
	"github.com/pki-tools/chainvalidator/internal/testcerts"
	"github.com/pki-tools/chainvalidator/qualified"
)

func testRoot(t *testing.T) *certview.Certificate {
	t.Helper()
	der := testcerts.SelfSigned(testcerts.Options{CommonName: "Test Root", IsCA: true}).DER
	c, err := certview.New(der, certview.NewSideData())
	if err != nil {
		t.Fatalf("failed to build test root: %v", err)
	}
	return c
}

func newTestService(input string) *Service {
	return &Service{
		db:    &borp.DbMap{},
		in:    strings.NewReader(input),
		out:   &bytes.Buffer{},
		isTTY: func() bool { return true },
	}
}

func TestMarkTrustedInteractiveNotSupportedWithoutTTY(t *testing.T) {
	s := &Service{db: &borp.DbMap{}, in: strings.NewReader("y\n"), out: &bytes.Buffer{}, isTTY: func() bool { return false }}
	result, err := s.MarkTrustedInteractive(context.Background(), testRoot(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != MarkNotSupported {
		t.Errorf("expected MarkNotSupported without a TTY, got %v", result)
	}
}

func TestMarkTrustedInteractiveCancelled(t *testing.T) {
	s := newTestService("n\n")
	result, err := s.MarkTrustedInteractive(context.Background(), testRoot(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != MarkCancelled {
		t.Errorf("expected MarkCancelled on 'n' response, got %v", result)
	}
}

func TestIsInQualifiedListNilList(t *testing.T) {
	s := &Service{}
	if got := s.IsInQualifiedList(testRoot(t)); got != qualified.LookupErr {
		t.Errorf("expected LookupErr with no qualified list configured, got %v", got)
	}
}
