package chainvalidator

import (
	"crypto/x509"

	"github.com/pki-tools/chainvalidator/certview"
)

// verifySignature is the CryptoEngine collaborator spec.md names as
// deliberately out of scope (low-level cryptographic primitives).
// crypto/x509's own CheckSignatureFrom is the idiomatic Go provider
// for exactly this operation, so no third-party replacement is
// warranted here (see DESIGN.md).
func verifySignature(issuer, subject *certview.Certificate) error {
	return subject.Raw().CheckSignatureFrom(issuer.Raw())
}

// verifySelfSignature checks a root's self-signature the same way,
// against itself as both issuer and subject.
func verifySelfSignature(root *certview.Certificate) error {
	return root.Raw().CheckSignatureFrom(root.Raw())
}

// keyUsageAllowsCertSign is the Go equivalent of the external
// gpgsm_cert_use_cert_p check spec.md calls out: whether issuer's
// key usage extension permits it to sign certificates.
func keyUsageAllowsCertSign(issuer *certview.Certificate) bool {
	raw := issuer.Raw()
	if raw.KeyUsage == 0 {
		// No key usage extension present at all: historically treated
		// as "no restriction", matching crypto/x509's own behavior.
		return true
	}
	return raw.KeyUsage&x509.KeyUsageCertSign != 0
}
