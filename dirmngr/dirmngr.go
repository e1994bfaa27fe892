// Package dirmngr is the engine's client for the external directory /
// OCSP / CRL daemon the spec calls Dirmngr: issuer-certificate lookup
// by pattern, OCSP queries, and CRL fetch. It is the only package in
// this module that talks to the directory service; database, Redis and
// S3 access live in issuerdb, trustanchor and cvconfig.
//
// The service endpoint can be configured as a fixed address, or
// discovered per spec's "autoIssuerKeyRetrieve" workflow via a DNS SRV
// lookup (_dirmngr._tcp.<zone>), matching the way operators commonly
// locate an internal directory service without hardcoding its host.
package dirmngr

import (
	"bytes"
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/miekg/dns"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/crypto/ocsp"
)

// Client is the HTTP-based Dirmngr collaborator.
type Client struct {
	httpClient *http.Client
	baseURL    string
	resolver   string // DNS server address, host:port, as set by WithResolver
}

// Option configures a Client.
type Option func(*Client)

// WithResolver records a DNS server address on the Client. No Client
// method reads it: SRV discovery goes through Discover, which takes its
// resolver address as an argument and fails when that is empty.
func WithResolver(addr string) Option {
	return func(c *Client) { c.resolver = addr }
}

// New builds a Client pointed at baseURL (e.g. "https://dirmngr.internal:9000").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Discover resolves the Dirmngr endpoint for zone via a DNS SRV lookup
// of "_dirmngr._tcp.<zone>", returning a usable base URL. Used when a
// deployment prefers service discovery over a static config address.
func Discover(ctx context.Context, zone, resolverAddr string) (string, error) {
	if resolverAddr == "" {
		return "", fmt.Errorf("dirmngr: no resolver address configured for discovery")
	}
	client := &dns.Client{Timeout: 5 * time.Second}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn("_dirmngr._tcp."+zone), dns.TypeSRV)

	resp, _, err := client.ExchangeContext(ctx, msg, resolverAddr)
	if err != nil {
		return "", fmt.Errorf("dirmngr: SRV lookup failed: %w", err)
	}
	for _, rr := range resp.Answer {
		if srv, ok := rr.(*dns.SRV); ok {
			host := net.JoinHostPort(srv.Target, fmt.Sprintf("%d", srv.Port))
			return "https://" + host, nil
		}
	}
	return "", fmt.Errorf("dirmngr: no SRV record found for zone %s", zone)
}

// RevocationStatus is the OCSP/CRL outcome RevocationOracle needs.
type RevocationStatus int

const (
	StatusUnknownErr RevocationStatus = iota
	StatusGood
	StatusRevoked
	StatusNoCRL
	StatusCRLTooOld
)

// IsValid queries whether subject (issued by issuer) is currently
// revoked, using OCSP if useOCSP is set, otherwise CRL.
func (c *Client) IsValid(ctx context.Context, subject, issuer *x509.Certificate, useOCSP bool) (RevocationStatus, error) {
	if useOCSP {
		return c.ocspCheck(ctx, subject, issuer)
	}
	return c.crlCheck(ctx, subject, issuer)
}

func (c *Client) ocspCheck(ctx context.Context, subject, issuer *x509.Certificate) (RevocationStatus, error) {
	reqBytes, err := ocsp.CreateRequest(subject, issuer, nil)
	if err != nil {
		return StatusUnknownErr, fmt.Errorf("dirmngr: build OCSP request: %w", err)
	}

	endpoint := c.baseURL + "/ocsp"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBytes))
	if err != nil {
		return StatusUnknownErr, err
	}
	httpReq.Header.Set("Content-Type", "application/ocsp-request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return StatusUnknownErr, fmt.Errorf("dirmngr: OCSP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return StatusUnknownErr, err
	}

	ocspResp, err := ocsp.ParseResponseForCert(body, subject, issuer)
	if err != nil {
		return StatusUnknownErr, fmt.Errorf("dirmngr: parse OCSP response: %w", err)
	}

	switch ocspResp.Status {
	case ocsp.Good:
		return StatusGood, nil
	case ocsp.Revoked:
		return StatusRevoked, nil
	default:
		return StatusUnknownErr, fmt.Errorf("dirmngr: OCSP responder returned unknown status")
	}
}

// crlTooOldAfter bounds how stale a fetched CRL's NextUpdate may be
// before it's treated as unusable rather than authoritative.
const crlTooOldAfter = 7 * 24 * time.Hour

func (c *Client) crlCheck(ctx context.Context, subject, issuer *x509.Certificate) (RevocationStatus, error) {
	endpoint, err := c.crlEndpoint(issuer)
	if err != nil {
		return StatusNoCRL, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return StatusUnknownErr, err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return StatusNoCRL, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return StatusNoCRL, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return StatusUnknownErr, err
	}

	crl, err := x509.ParseRevocationList(body)
	if err != nil {
		return StatusUnknownErr, fmt.Errorf("dirmngr: parse CRL: %w", err)
	}

	if time.Now().After(crl.NextUpdate.Add(crlTooOldAfter)) {
		return StatusCRLTooOld, nil
	}

	for _, revoked := range crl.RevokedCertificateEntries {
		if revoked.SerialNumber.Cmp(subject.SerialNumber) == 0 {
			return StatusRevoked, nil
		}
	}
	return StatusGood, nil
}

func (c *Client) crlEndpoint(issuer *x509.Certificate) (string, error) {
	if len(issuer.CRLDistributionPoints) > 0 {
		if _, err := url.Parse(issuer.CRLDistributionPoints[0]); err == nil {
			return issuer.CRLDistributionPoints[0], nil
		}
	}
	return "", fmt.Errorf("dirmngr: no CRL distribution point on issuer")
}

// Lookup fetches candidate certificates matching pattern (an issuer DN
// or its CN component) from the directory, for IssuerResolver's
// external-lookup steps.
func (c *Client) Lookup(ctx context.Context, pattern string) ([][]byte, error) {
	endpoint := c.baseURL + "/lookup?q=" + url.QueryEscape(pattern)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dirmngr: lookup failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dirmngr: lookup returned status %d", resp.StatusCode)
	}

	var out [][]byte
	dec := newPEMBundleDecoder(resp.Body)
	for {
		der, ok := dec.Next()
		if !ok {
			break
		}
		out = append(out, der)
	}
	return out, nil
}
