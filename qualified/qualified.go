// Package qualified implements QualifiedSigClassifier: deciding whether
// a chain roots in a qualified-electronic-signature root, and the
// RegTP-specific country-gated lookup that regtp.Workaround needs.
//
// The authoritative list is a small, admin-editable YAML document (one
// entry per recognized root, by SHA-256 fingerprint and country code)
// rather than a database table, mirroring how the pack's
// certificate-transparency log-list is distributed: a flat file loaded
// once and held in memory for O(1) lookups.
package qualified

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pki-tools/chainvalidator/certview"
	"github.com/pki-tools/chainvalidator/core"
)

// RootEntry is one line of the qualified-root list.
type RootEntry struct {
	Fingerprint string `yaml:"fingerprint"`
	Country     string `yaml:"country"`
}

// List is the loaded, in-memory qualified-root list.
type List struct {
	byFingerprint map[string]RootEntry
}

// Load reads and parses a YAML qualified-root list from path.
func Load(path string) (*List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []RootEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	l := &List{byFingerprint: make(map[string]RootEntry, len(entries))}
	for _, e := range entries {
		l.byFingerprint[e.Fingerprint] = e
	}
	return l, nil
}

// LookupResult mirrors TrustAnchorService.isInQualifiedList's
// three-way outcome.
type LookupResult int

const (
	LookupErr LookupResult = iota
	LookupOK
	LookupNotFound
)

// IsInQualifiedList answers whether root sits on the list at all,
// regardless of country.
func (l *List) IsInQualifiedList(root *certview.Certificate) LookupResult {
	if l == nil {
		return LookupErr
	}
	if _, ok := l.byFingerprint[root.FingerprintHex()]; ok {
		return LookupOK
	}
	return LookupNotFound
}

// IsQualifiedDERoot implements regtp.QualifiedDERoots: present on the
// list with country code "de".
func (l *List) IsQualifiedDERoot(root *certview.Certificate) bool {
	if l == nil {
		return false
	}
	entry, ok := l.byFingerprint[root.FingerprintHex()]
	return ok && entry.Country == "de"
}

// Classifier implements QualifiedSigClassifier.
type Classifier struct {
	list *List
}

func New(list *List) *Classifier {
	return &Classifier{list: list}
}

// Decision is the tri-state result from spec §3's isQualified field.
type Decision int

const (
	Unknown Decision = iota
	No
	Yes
)

// ClassifyRoot implements spec §4.8: called the first time isQualified
// is unknown and a root is reached. It consults the root's cached
// user-data first, then the qualified list, and caches the outcome.
func (c *Classifier) ClassifyRoot(root *certview.Certificate) Decision {
	if cached, ok := root.UserData(string(core.UserDataIsQualified)); ok && len(cached) == 1 {
		if cached[0] == 1 {
			return Yes
		}
		return No
	}

	switch c.list.IsInQualifiedList(root) {
	case LookupOK:
		root.SetUserData(string(core.UserDataIsQualified), []byte{1})
		return Yes
	case LookupNotFound:
		root.SetUserData(string(core.UserDataIsQualified), []byte{0})
		return No
	default:
		return Unknown
	}
}

// CacheOnTarget persists a reached decision onto the original target
// certificate too, per spec §4.1's closing step.
func CacheOnTarget(target *certview.Certificate, decision Decision) {
	switch decision {
	case Yes:
		target.SetUserData(string(core.UserDataIsQualified), []byte{1})
	case No:
		target.SetUserData(string(core.UserDataIsQualified), []byte{0})
	}
}
