// Package regtp implements the vendor-specific Basic Constraints
// workaround for certificates issued under the German signature law,
// whose former regulator (RegTP, succeeded by the Bundesnetzagentur)
// issued CA certificates that omit the Basic Constraints extension
// entirely.
//
// To break the dependency cycle the spec's design notes call out
// (CAConstraintCheck depends on RegTPWorkaround; a full chain-walking
// IssuerResolver would in turn depend on CAConstraintCheck), this
// package does its own plain issuer ascent through a narrow
// IssuerLookup interface that performs no signature verification and
// no CA enforcement of its own.
package regtp

import (
	"github.com/pki-tools/chainvalidator/certview"
	"github.com/pki-tools/chainvalidator/core"
)

// maxWalk bounds the plain ascent used purely to find the topmost
// reachable certificate, per spec §4.7: depths 0 or 4 abort as "not
// RegTP".
const maxWalk = 4

// IssuerLookup is a minimal, signature-unaware issuer lookup: given a
// certificate, find *a* candidate issuer by subject DN alone.
type IssuerLookup interface {
	FindIssuerByDN(issuerDN string) (*certview.Certificate, bool, error)
}

// QualifiedDERoots answers whether a root certificate sits on the
// authoritative qualified-signature list with country code "de".
type QualifiedDERoots interface {
	IsQualifiedDERoot(root *certview.Certificate) bool
}

// Workaround implements RegTPWorkaround.
type Workaround struct {
	lookup    IssuerLookup
	qualified QualifiedDERoots
}

func New(lookup IssuerLookup, qualified QualifiedDERoots) *Workaround {
	return &Workaround{lookup: lookup, qualified: qualified}
}

// Classify reports whether cert should be treated as a CA under the
// RegTP workaround, and if so, its synthesized path-length constraint.
// The result is cached in cert's user-data so repeated calls are
// idempotent and cheap.
func (w *Workaround) Classify(cert *certview.Certificate) (isCA bool, chainLen int, err error) {
	if cached, ok := cert.UserData(string(core.UserDataRegTPChainLen)); ok {
		if len(cached) == 0 {
			return false, 0, nil
		}
		if len(cached) == 2 && cached[0] == 0x01 {
			return true, int(cached[1]), nil
		}
	}

	chain := []*certview.Certificate{cert}
	cur := cert
	for depth := 0; depth < maxWalk; depth++ {
		if cur.IsRoot() {
			break
		}
		next, found, lookupErr := w.lookup.FindIssuerByDN(cur.IssuerDN())
		if lookupErr != nil || !found {
			break
		}
		chain = append(chain, next)
		cur = next
	}

	depth := len(chain) - 1
	root := chain[len(chain)-1]

	if depth == 0 || depth == maxWalk || !root.IsRoot() {
		cert.SetUserData(string(core.UserDataRegTPChainLen), []byte{})
		return false, 0, nil
	}

	if w.qualified == nil || !w.qualified.IsQualifiedDERoot(root) {
		cert.SetUserData(string(core.UserDataRegTPChainLen), []byte{})
		return false, 0, nil
	}

	root.SetUserData(string(core.UserDataRegTPChainLen), []byte{0x01, 0x01})
	if depth > 1 {
		belowRoot := chain[len(chain)-2]
		belowRoot.SetUserData(string(core.UserDataRegTPChainLen), []byte{0x01, 0x00})
	}

	resultChainLen := 1
	if depth > 1 {
		resultChainLen = 0
	}
	// Cache on the originally-queried certificate too, even in the
	// depth==1 case where it coincides with "the cert just below the
	// root" above: this keeps repeat classification idempotent, which
	// the engine's testable properties require.
	cert.SetUserData(string(core.UserDataRegTPChainLen), []byte{0x01, byte(resultChainLen)})

	return true, resultChainLen, nil
}
