// Package policy implements PolicyChecker: matching a certificate's
// certificatePolicies extension against an administrator-maintained
// allow-list file.
package policy

import (
	"bufio"
	"os"
	"strings"

	"github.com/pki-tools/chainvalidator/certview"
	cverrors "github.com/pki-tools/chainvalidator/errors"
	blog "github.com/pki-tools/chainvalidator/log"
)

// maxLineLength bounds a single policy-file line, per spec §4.4.
const maxLineLength = 256

// Checker implements the policy-file match described in spec §4.4.
type Checker struct {
	policyFile string
	log        blog.Logger
}

// New builds a Checker. An empty policyFile means "no admin policy
// file is configured", per spec.
func New(policyFile string, log blog.Logger) *Checker {
	return &Checker{policyFile: policyFile, log: log}
}

// Check implements the algorithm in spec §4.4 exactly.
func (c *Checker) Check(cert *certview.Certificate) error {
	policies := cert.PoliciesString()
	if policies == "" {
		return nil
	}

	anyCritical := false
	for _, line := range strings.Split(policies, "\n") {
		if strings.HasSuffix(line, ":C") {
			anyCritical = true
			break
		}
	}

	if c.policyFile == "" {
		if anyCritical {
			return cverrors.New(cverrors.NoPolicyMatch, "certificate carries a critical policy OID but no admin policy file is configured")
		}
		return nil
	}

	f, err := os.Open(c.policyFile)
	if err != nil {
		if anyCritical {
			return cverrors.New(cverrors.NoPolicyMatch, "certificate carries a critical policy OID and the policy file could not be opened: %v", err)
		}
		if c.log != nil {
			c.log.Info("policy file could not be opened; no critical policy OID present, continuing")
		}
		return nil
	}
	defer f.Close()

	allowed, err := parseAllowedOIDs(f)
	if err != nil {
		return cverrors.New(cverrors.ConfigError, "malformed policy file %s: %v", c.policyFile, err)
	}

	for _, oid := range allowed {
		if matchesPolicy(policies, oid) {
			return nil
		}
	}

	if anyCritical {
		return cverrors.New(cverrors.NoPolicyMatch, "no policy-file OID matched this certificate's critical policies")
	}
	if c.log != nil {
		c.log.Info("no policy-file OID matched this certificate, but no policy was marked critical")
	}
	return nil
}

// matchesPolicy reports whether oid appears in policies at the start of
// a record: at the beginning of the string, or immediately after a
// newline, and immediately followed by ':'.
func matchesPolicy(policies, oid string) bool {
	for _, line := range strings.Split(policies, "\n") {
		rest := strings.TrimPrefix(line, oid)
		if rest != line && strings.HasPrefix(rest, ":") {
			return true
		}
	}
	return false
}

// parseAllowedOIDs scans the policy file, skipping blank and comment
// lines, and returns the first token (up to space, ':' or newline) of
// every remaining line as an allowed OID.
func parseAllowedOIDs(f *os.File) ([]string, error) {
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, maxLineLength)
	scanner.Buffer(buf, maxLineLength)

	var allowed []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		oid := firstToken(line)
		if oid == "" {
			return nil, errMalformedLine(line)
		}
		allowed = append(allowed, oid)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return allowed, nil
}

func firstToken(line string) string {
	end := strings.IndexAny(line, " \t:")
	if end == -1 {
		return line
	}
	return line[:end]
}

type malformedLineError string

func (e malformedLineError) Error() string { return "malformed policy line: " + string(e) }

func errMalformedLine(line string) error { return malformedLineError(line) }
