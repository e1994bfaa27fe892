// Package goodkey carries the supplementary key-strength diagnostics
// the engine attaches to chain validation: a known-weak-modulus
// suffix blacklist (adapted from Boulder's own goodkey package) and a
// ROCA (Infineon TPM / smart-card RSA key generation flaw) check.
// Neither gates the validation verdict on its own; both surface as
// soft diagnostic lines, since spec.md does not name key-strength
// checking as part of errorKind.
package goodkey

import (
	"bufio"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/titanous/rocacheck"
)

// suffixLen is the number of hex characters of the tail of a known-weak
// modulus's SHA-1 digest that are stored to identify it without storing
// the full key.
const suffixLen = 20

// weakKeys holds a blacklist of SHA-1 digest suffixes of RSA moduli
// known to be produced by vulnerable key generators (e.g. Debian's 2008
// OpenSSL PRNG bug).
type weakKeys struct {
	suffixes map[[10]byte]struct{}
}

func newWeakKeys() *weakKeys {
	return &weakKeys{suffixes: make(map[[10]byte]struct{})}
}

func errBadSuffixLength(s string) error {
	return fmt.Errorf("weak key suffix must be %d hex characters, got %q", suffixLen, s)
}

// addSuffix records one hex-encoded modulus suffix.
func (wk *weakKeys) addSuffix(hexSuffix string) error {
	hexSuffix = strings.TrimSpace(hexSuffix)
	if len(hexSuffix) != suffixLen {
		return errBadSuffixLength(hexSuffix)
	}
	decoded, err := hex.DecodeString(hexSuffix)
	if err != nil {
		return err
	}
	var raw [10]byte
	copy(raw[:], decoded)
	wk.suffixes[raw] = struct{}{}
	return nil
}

// Known reports whether the SHA-1 digest of modulus ends in a
// blacklisted suffix. Hashing the modulus, rather than comparing its
// raw bytes, is what lets a small blacklist file identify any of the
// (large) family of moduli produced by a known-bad generator.
func (wk *weakKeys) Known(modulus []byte) bool {
	digest := sha1.Sum(modulus)
	var tail [10]byte
	copy(tail[:], digest[len(digest)-10:])
	_, found := wk.suffixes[tail]
	return found
}

// loadSuffixes reads every file in dir, one hex suffix per line
// (blank lines and '#' comments skipped), into a weakKeys set.
func loadSuffixes(dir string) (*weakKeys, error) {
	wk := newWeakKeys()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := loadSuffixFile(wk, filepath.Join(dir, entry.Name())); err != nil {
			return nil, err
		}
	}
	return wk, nil
}

func loadSuffixFile(wk *weakKeys, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := wk.addSuffix(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// List implements the blacklist plus the ROCA check as a single
// diagnostic surface for the chainvalidator package.
type List struct {
	weak *weakKeys
}

// LoadList reads a weak-key-suffix blacklist directory. An empty dir
// means "no blacklist configured"; Diagnose then only runs the ROCA
// check.
func LoadList(dir string) (*List, error) {
	if dir == "" {
		return &List{}, nil
	}
	wk, err := loadSuffixes(dir)
	if err != nil {
		return nil, err
	}
	return &List{weak: wk}, nil
}

// Diagnose returns a non-empty human-readable warning if pub looks
// weak, or the empty string if it looks fine. It never returns an
// error: key-strength issues are reported, not enforced, per this
// package's doc comment.
func (l *List) Diagnose(pub interface{}) string {
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return ""
	}
	if l.weak != nil && l.weak.Known(rsaKey.N.Bytes()) {
		return "RSA modulus suffix matches a known-weak key blacklist entry"
	}
	if rocacheck.IsWeak(rsaKey) {
		return "RSA key appears vulnerable to the ROCA (Infineon RSALib) weak key generation flaw"
	}
	return ""
}
