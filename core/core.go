// Copyright 2014 ISRG.  All rights reserved
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package core holds the data model shared by every collaborator of the
// chain validation engine: the validation request and result types, the
// trust-verdict types, and the error taxonomy they're built from. The
// certificate handle itself lives in certview.
package core

import (
	"io"
	"time"

	"github.com/pki-tools/chainvalidator/certview"
	cverrors "github.com/pki-tools/chainvalidator/errors"
)

// MaxDepth bounds how many issuer hops ChainValidator will walk before
// giving up with BadCertChain. Fifty matches what a sane X.509 deployment
// should never need in practice; it exists to bound pathological loops.
const MaxDepth = 50

// UserDataKey names a slot in a Certificate's side-data map.
type UserDataKey string

const (
	// UserDataIsQualified holds a single 0/1 byte: whether the chain rooted
	// at this certificate was classified as a qualified-signature chain.
	UserDataIsQualified UserDataKey = "is_qualified"

	// UserDataRegTPChainLen caches the result of the RegTP Basic-Constraints
	// workaround. Empty means "checked, not RegTP"; [0x01, n] means "RegTP CA
	// with chain length n".
	UserDataRegTPChainLen UserDataKey = "regtp_ca_chainlen"
)

// TrustAnchorFlags are per-root opt-outs recorded alongside a trust
// decision.
type TrustAnchorFlags struct {
	// Relax allows a relaxed validation mode for this root: skip revocation
	// checking on the anchor itself, and tolerate a missing Basic
	// Constraints extension.
	Relax bool
}

// TrustVerdict is the outcome of asking a TrustAnchorService whether a
// root is trusted.
type TrustVerdict int

const (
	TrustUnknown TrustVerdict = iota
	TrustOK
	TrustNotTrusted
)

// RootCAFlags bundles a trust verdict with its accompanying flags. It is
// passed by value; ChainValidator fills it only for a root (issuer DN
// equal to subject DN) and reads it only on that branch. A zero value
// carries Verdict TrustUnknown.
type RootCAFlags struct {
	Verdict TrustVerdict
	Flags   TrustAnchorFlags
}

// ValidationFlags is the bitfield carried on a ValidationRequest.
type ValidationFlags uint32

// SkipRevocation is bit 0 of ValidationFlags.
const SkipRevocation ValidationFlags = 1 << 0

func (f ValidationFlags) SkipRevocation() bool {
	return f&SkipRevocation != 0
}

// ValidationRequest is the input to ChainValidator.Validate.
type ValidationRequest struct {
	Target   *certview.Certificate
	Flags    ValidationFlags
	ListMode bool
	Output   io.Writer
	Now      time.Time
}

// ErrorKind enumerates the outcomes a validation can produce. The zero
// value is OK.
type ErrorKind = cverrors.ErrorKind

// Re-export the ErrorKind constants so callers only need to import core.
const (
	OK                 = cverrors.OK
	BadCert            = cverrors.BadCert
	BadCertChain       = cverrors.BadCertChain
	BadSignature       = cverrors.BadSignature
	CertTooYoung       = cverrors.CertTooYoung
	CertExpired        = cverrors.CertExpired
	CertRevoked        = cverrors.CertRevoked
	NoCRL              = cverrors.NoCRL
	CRLTooOld          = cverrors.CRLTooOld
	NoPolicyMatch      = cverrors.NoPolicyMatch
	MissingCert        = cverrors.MissingCert
	NotTrusted         = cverrors.NotTrusted
	UnsupportedCert    = cverrors.UnsupportedCert
	ConfigError        = cverrors.ConfigError
	General            = cverrors.General
)

// ValidationResult is the output of ChainValidator.Validate.
type ValidationResult struct {
	ErrorKind      ErrorKind
	NearestNotAfter string // ISO 8601, empty if no certificate carried a notAfter
}
