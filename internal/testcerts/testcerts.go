// Package testcerts builds throwaway self-signed and chained
// certificates for unit tests, following the template-based
// x509.CreateCertificate pattern Boulder's own storage-authority tests
// use.
package testcerts

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"time"
)

func criticalExtraExtension(oid []int) []pkix.Extension {
	if len(oid) == 0 {
		return nil
	}
	return []pkix.Extension{{
		Id:       asn1.ObjectIdentifier(oid),
		Critical: true,
		Value:    []byte{0x05, 0x00}, // ASN.1 NULL, contents are never inspected
	}}
}

// policyInformation mirrors the PolicyInformation SEQUENCE from RFC
// 5280 §4.2.1.4, trimmed to the one field tests need.
type policyInformation struct {
	PolicyIdentifier asn1.ObjectIdentifier
}

func policiesExtension(oids []asn1.ObjectIdentifier, critical bool) []pkix.Extension {
	if len(oids) == 0 {
		return nil
	}
	infos := make([]policyInformation, len(oids))
	for i, oid := range oids {
		infos[i] = policyInformation{PolicyIdentifier: oid}
	}
	val, err := asn1.Marshal(infos)
	if err != nil {
		panic("testcerts: failed to marshal certificatePolicies: " + err.Error())
	}
	return []pkix.Extension{{Id: asn1.ObjectIdentifier{2, 5, 29, 32}, Critical: critical, Value: val}}
}

func extraExtensions(opts Options) []pkix.Extension {
	exts := criticalExtraExtension(opts.CriticalExtraOID)
	exts = append(exts, policiesExtension(opts.PolicyOIDs, opts.PolicyCritical)...)
	return exts
}

// Options customizes a generated certificate; the zero value produces
// a valid, non-CA certificate good for the next year (SelfSigned) or
// the next 90 days (IssuedBy).
type Options struct {
	CommonName         string
	Country            string
	IsCA               bool
	PathLenConstraint   int
	PathLenConstraintSet bool
	NotBefore          time.Time
	NotAfter           time.Time
	SerialNumber       int64
	SelfSigned         bool
	CriticalExtraOID   []int // adds one critical, engine-unrecognized extension when set
	PolicyOIDs         []asn1.ObjectIdentifier
	PolicyCritical     bool
}

// Signed is a generated certificate plus the key material needed to
// sign something with it as an issuer.
type Signed struct {
	DER  []byte
	Cert *x509.Certificate
	Key  *rsa.PrivateKey
}

func makeKey() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic("testcerts: failed to generate RSA key: " + err.Error())
	}
	return key
}

// SelfSigned builds a self-signed root (issuer == subject) certificate.
func SelfSigned(opts Options) *Signed {
	if opts.NotBefore.IsZero() {
		opts.NotBefore = time.Now().Add(-24 * time.Hour)
	}
	if opts.NotAfter.IsZero() {
		opts.NotAfter = time.Now().Add(365 * 24 * time.Hour)
	}
	if opts.SerialNumber == 0 {
		opts.SerialNumber = 1
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(opts.SerialNumber),
		Subject: pkix.Name{
			CommonName: opts.CommonName,
		},
		NotBefore:             opts.NotBefore,
		NotAfter:              opts.NotAfter,
		BasicConstraintsValid: true,
		IsCA:                  opts.IsCA,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		SubjectKeyId:          []byte{1, 2, 3, 4},
		ExtraExtensions:       extraExtensions(opts),
	}
	if opts.Country != "" {
		template.Subject.Country = []string{opts.Country}
	}
	if opts.PathLenConstraintSet {
		template.MaxPathLen = opts.PathLenConstraint
		template.MaxPathLenZero = opts.PathLenConstraint == 0
	} else {
		template.MaxPathLen = -1
	}

	key := makeKey()
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		panic("testcerts: failed to create self-signed certificate: " + err.Error())
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		panic("testcerts: failed to parse generated certificate: " + err.Error())
	}
	return &Signed{DER: der, Cert: cert, Key: key}
}

// IssuedBy builds a certificate for opts.CommonName signed by parent, with
// parent.Subject becoming the child's Issuer.
func IssuedBy(parent *Signed, opts Options) *Signed {
	if opts.NotBefore.IsZero() {
		opts.NotBefore = time.Now().Add(-24 * time.Hour)
	}
	if opts.NotAfter.IsZero() {
		opts.NotAfter = time.Now().Add(90 * 24 * time.Hour)
	}
	if opts.SerialNumber == 0 {
		opts.SerialNumber = 2
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(opts.SerialNumber),
		Subject: pkix.Name{
			CommonName: opts.CommonName,
		},
		NotBefore:             opts.NotBefore,
		NotAfter:              opts.NotAfter,
		BasicConstraintsValid: opts.IsCA || opts.PathLenConstraintSet,
		IsCA:                  opts.IsCA,
		AuthorityKeyId:        parent.Cert.SubjectKeyId,
		ExtraExtensions:       extraExtensions(opts),
	}
	if opts.IsCA {
		template.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature
		template.SubjectKeyId = []byte{5, 6, 7, 8}
	} else {
		template.KeyUsage = x509.KeyUsageDigitalSignature
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	}
	if opts.PathLenConstraintSet {
		template.MaxPathLen = opts.PathLenConstraint
		template.MaxPathLenZero = opts.PathLenConstraint == 0
	} else {
		template.MaxPathLen = -1
	}

	key := makeKey()
	der, err := x509.CreateCertificate(rand.Reader, template, parent.Cert, &key.PublicKey, parent.Key)
	if err != nil {
		panic("testcerts: failed to create issued certificate: " + err.Error())
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		panic("testcerts: failed to parse generated certificate: " + err.Error())
	}
	return &Signed{DER: der, Cert: cert, Key: key}
}
