// Package caconstraint implements CAConstraintCheck: enforcement of the
// Basic Constraints cA flag and pathLenConstraint, with a fallback to
// the RegTP workaround for certificates that omit the extension.
package caconstraint

import (
	"fmt"

	"github.com/pki-tools/chainvalidator/certview"
	"github.com/pki-tools/chainvalidator/regtp"
)

// Checker implements AllowedCA.
type Checker struct {
	regtp *regtp.Workaround
}

func New(workaround *regtp.Workaround) *Checker {
	return &Checker{regtp: workaround}
}

// AllowedCA reports whether cert is permitted to act as a CA, and its
// effective path-length constraint (-1 meaning unbounded). It is the
// Go equivalent of the spec's allowedCA(cert, out chainLen).
func (c *Checker) AllowedCA(cert *certview.Certificate) (chainLen int, err error) {
	isCA, pathLen, present := cert.BasicConstraints()
	if present && isCA {
		return pathLen, nil
	}

	if c.regtp != nil {
		regtpCA, regtpChainLen, regtpErr := c.regtp.Classify(cert)
		if regtpErr == nil && regtpCA {
			return regtpChainLen, nil
		}
	}

	return 0, fmt.Errorf("certificate %s is not permitted to act as a CA", cert.SubjectDN())
}
