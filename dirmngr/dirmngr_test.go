package dirmngr

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLookupParsesBundle(t *testing.T) {
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("fake-der-1")})
	certPEM2 := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("fake-der-2")})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(certPEM)
		w.Write(certPEM2)
	}))
	defer srv.Close()

	c := New(srv.URL)
	got, err := c.Lookup(context.Background(), "CN=Test Issuer")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if !bytes.Equal(got[0], []byte("fake-der-1")) || !bytes.Equal(got[1], []byte("fake-der-2")) {
		t.Error("Lookup returned wrong DER bytes")
	}
}

func TestLookupNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL)
	got, err := c.Lookup(context.Background(), "CN=Nobody")
	if err != nil {
		t.Fatalf("Lookup returned error on 404: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil result on 404, got %v", got)
	}
}

func TestCRLEndpointMissing(t *testing.T) {
	c := New("https://dirmngr.example")
	if _, err := c.crlEndpoint(&x509.Certificate{}); err == nil {
		t.Error("expected error when issuer has no CRL distribution points")
	}
}
