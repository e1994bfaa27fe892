// Package issuerdb implements IssuerResolver: the findUp search
// described in spec §4.2, backed by a durable KeyDB table (MySQL via
// letsencrypt/borp, the way Boulder's storage authority maps core
// types onto gorp) and an ephemeral overlay (Redis) for certificates
// fetched on the fly from Dirmngr.
package issuerdb

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/letsencrypt/borp"

	"github.com/pki-tools/chainvalidator/certview"
	"github.com/pki-tools/chainvalidator/dirmngr"
	blog "github.com/pki-tools/chainvalidator/log"
)

// cursorState tracks, per (subject fingerprint, search step, query
// key), the row index last handed back by a multi-row durable search,
// so a findNext=true call advances to a byte-distinct candidate
// instead of re-running the same query. Spec §5 calls this "the only
// transactional discipline in the core" — it is scoped to one
// subject's ascent (keyed by that subject's own fingerprint), so two
// concurrent findUp calls for different subjects, or for the same
// issuer DN reached from different subjects, never share a cursor.
type cursorState struct {
	mu  sync.Mutex
	idx map[string]int
}

func newCursorState() *cursorState { return &cursorState{idx: make(map[string]int)} }

// index returns the 0-based row to use for this call. A non-retry call
// (findNext false) always restarts the cursor at row 0; a retry call
// advances it past every row already handed back for key.
func (c *cursorState) index(key string, findNext bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !findNext {
		c.idx[key] = 0
		return 0
	}
	c.idx[key]++
	return c.idx[key]
}

// Config is the resolver's runtime configuration, per spec §6's
// config surface (autoIssuerKeyRetrieve, noCRLCheck live alongside it
// in cvconfig; this is the slice issuerdb itself needs).
type Config struct {
	AutoIssuerKeyRetrieve bool
	EphemeralTTL          time.Duration
}

// KeyDB is the IssuerResolver collaborator.
type KeyDB struct {
	db      *borp.DbMap
	redis   *redis.Client
	dirmngr *dirmngr.Client
	side    *certview.SideData
	cfg     Config
	log     blog.Logger
	cursors *cursorState
}

// New builds a KeyDB. redisClient and dm may be nil; a nil dm disables
// external lookup regardless of cfg.AutoIssuerKeyRetrieve, and a nil
// redisClient disables ephemeral storage (external lookups still
// succeed but their certs aren't persisted for a second findUp pass).
func New(db *borp.DbMap, redisClient *redis.Client, dm *dirmngr.Client, side *certview.SideData, cfg Config, log blog.Logger) *KeyDB {
	if cfg.EphemeralTTL == 0 {
		cfg.EphemeralTTL = 10 * time.Minute
	}
	return &KeyDB{db: db, redis: redisClient, dirmngr: dm, side: side, cfg: cfg, log: log, cursors: newCursorState()}
}

// FindUp implements spec §4.2's search order. findNext skips ephemeral
// retries and external lookups so the caller can keep iterating a
// normal-mode cursor (searchBySubject's multiple candidates).
func (k *KeyDB) FindUp(ctx context.Context, subject *certview.Certificate, issuerDN string, findNext bool) (*certview.Certificate, bool, error) {
	aki := subject.AuthorityKeyID()
	subjectFP := subject.FingerprintHex()

	// Step 1: AKI issuer+serial.
	if aki != nil && aki.IssuerName != "" && len(aki.SerialNumber) > 0 {
		serialHex := hex.EncodeToString(aki.SerialNumber)
		if c, ok, err := k.searchByIssuerSerial(ctx, subjectFP, aki.IssuerName, serialHex, false, findNext); err != nil || ok {
			return c, ok, err
		}
		if !findNext {
			if c, ok, err := k.searchByIssuerSerial(ctx, subjectFP, aki.IssuerName, serialHex, true, false); err != nil || ok {
				return c, ok, err
			}
		}
	}

	// Step 2: AKI bare keyId.
	if aki != nil && len(aki.KeyID) > 0 {
		if c, ok, err := k.searchBySubjectKeyID(ctx, subjectFP, issuerDN, aki.KeyID, false, findNext); err != nil || ok {
			return c, ok, err
		}
		if !findNext {
			if c, ok, err := k.searchBySubjectKeyID(ctx, subjectFP, issuerDN, aki.KeyID, true, false); err != nil || ok {
				return c, ok, err
			}
		}
	}

	// Step 3: external lookup, scoped ephemeral, retrying steps 1/2.
	if k.cfg.AutoIssuerKeyRetrieve && !findNext && k.dirmngr != nil {
		if err := k.externalLookup(ctx, issuerDN); err != nil && k.log != nil {
			k.log.Debug(fmt.Sprintf("issuerdb: external lookup for %q failed: %v", issuerDN, err))
		}
		if aki != nil && aki.IssuerName != "" && len(aki.SerialNumber) > 0 {
			serialHex := hex.EncodeToString(aki.SerialNumber)
			if c, ok, err := k.searchByIssuerSerial(ctx, subjectFP, aki.IssuerName, serialHex, true, false); err != nil || ok {
				return c, ok, err
			}
		}
		if aki != nil && len(aki.KeyID) > 0 {
			if c, ok, err := k.searchBySubjectKeyID(ctx, subjectFP, issuerDN, aki.KeyID, true, false); err != nil || ok {
				return c, ok, err
			}
		}
	}

	// Step 4: bare subject search.
	if c, ok, err := k.searchBySubject(ctx, subjectFP, issuerDN, false, findNext); err != nil || ok {
		return c, ok, err
	}
	if !findNext {
		if c, ok, err := k.searchBySubject(ctx, subjectFP, issuerDN, true, false); err != nil || ok {
			return c, ok, err
		}
	}

	// Step 5: external lookup with no AKI hint.
	if !findNext && k.dirmngr != nil {
		if err := k.externalLookup(ctx, issuerDN); err != nil && k.log != nil {
			k.log.Debug(fmt.Sprintf("issuerdb: fallback external lookup for %q failed: %v", issuerDN, err))
		}
		if c, ok, err := k.searchBySubject(ctx, subjectFP, issuerDN, true, false); err != nil || ok {
			return c, ok, err
		}
	}

	return nil, false, nil
}

// FindIssuerByDN implements regtp.IssuerLookup: a plain, signature-
// unaware normal-mode subject search, with no ephemeral retry and no
// external lookup, so the RegTP walk never re-enters findUp's full
// search machinery. It always takes the first durable candidate; the
// cursor key is a fixed namespace since this path never retries.
func (k *KeyDB) FindIssuerByDN(issuerDN string) (*certview.Certificate, bool, error) {
	return k.searchBySubject(context.Background(), "regtp", issuerDN, false, false)
}

// SetRevoked implements revocation.CacheSetter: best-effort marks the
// durable KeyDB row for subject as revoked. Errors are the caller's to
// ignore, per spec §4.3 ("best-effort; errors ignored").
func (k *KeyDB) SetRevoked(subject *certview.Certificate) error {
	fp := subject.FingerprintHex()
	_, err := k.db.Exec("UPDATE issuer_certs SET revoked = TRUE WHERE fingerprint = ?", fp)
	return err
}

// searchByIssuerSerial matches spec §4.2 step 1. Durable hits are
// fetched as a full, deterministically ordered candidate set and
// walked via cursors, so a byte-distinct R2 is actually reachable when
// R1 and R2 share the same issuer name and serial (scenario 4).
func (k *KeyDB) searchByIssuerSerial(ctx context.Context, subjectFP, issuerName, serialHex string, ephemeral, findNext bool) (*certview.Certificate, bool, error) {
	if ephemeral {
		der, err := k.ephemeralGet(ctx, "iss:"+issuerName+"|"+serialHex)
		if err != nil || der == nil {
			return nil, false, err
		}
		c, err := k.parse(der)
		return c, err == nil, err
	}

	var rows []certRow
	_, err := k.db.Select(&rows,
		"SELECT * FROM issuer_certs WHERE aki_issuer_name = ? AND aki_serial_hex = ? ORDER BY fingerprint",
		issuerName, serialHex)
	if err != nil {
		return nil, false, fmt.Errorf("issuerdb: searchByIssuerSerial: %w", err)
	}
	idx := k.cursors.index("issSerial|"+subjectFP+"|"+issuerName+"|"+serialHex, findNext)
	if idx >= len(rows) {
		return nil, false, nil
	}
	c, err := k.parse(rows[idx].DER)
	return c, err == nil, err
}

func (k *KeyDB) searchBySubjectKeyID(ctx context.Context, subjectFP, issuerDN string, keyID []byte, ephemeral, findNext bool) (*certview.Certificate, bool, error) {
	if ephemeral {
		der, err := k.ephemeralGet(ctx, "ski:"+issuerDN+"|"+hex.EncodeToString(keyID))
		if err != nil || der == nil {
			return nil, false, err
		}
		c, err := k.parse(der)
		return c, err == nil, err
	}

	var rows []certRow
	_, err := k.db.Select(&rows, "SELECT * FROM issuer_certs WHERE subject_dn = ? ORDER BY fingerprint", issuerDN)
	if err != nil {
		return nil, false, fmt.Errorf("issuerdb: searchBySubjectKeyID: %w", err)
	}
	var matches []certRow
	for _, row := range rows {
		if bytesEqual(row.SubjectKeyID, keyID) {
			matches = append(matches, row)
		}
	}
	idx := k.cursors.index("ski|"+subjectFP+"|"+issuerDN+"|"+hex.EncodeToString(keyID), findNext)
	if idx >= len(matches) {
		return nil, false, nil
	}
	c, err := k.parse(matches[idx].DER)
	return c, err == nil, err
}

func (k *KeyDB) searchBySubject(ctx context.Context, subjectFP, subjectDN string, ephemeral, findNext bool) (*certview.Certificate, bool, error) {
	if ephemeral {
		der, err := k.ephemeralGet(ctx, "sub:"+subjectDN)
		if err != nil || der == nil {
			return nil, false, err
		}
		c, err := k.parse(der)
		return c, err == nil, err
	}

	var rows []certRow
	_, err := k.db.Select(&rows, "SELECT * FROM issuer_certs WHERE subject_dn = ? ORDER BY fingerprint", subjectDN)
	if err != nil {
		return nil, false, fmt.Errorf("issuerdb: searchBySubject: %w", err)
	}
	idx := k.cursors.index("sub|"+subjectFP+"|"+subjectDN, findNext)
	if idx >= len(rows) {
		return nil, false, nil
	}
	c, err := k.parse(rows[idx].DER)
	return c, err == nil, err
}

// externalLookup asks Dirmngr for candidates matching issuerDN's
// pattern (its CN component if present, else the whole DN, per spec
// §4.2 step 3) and stores every hit into the ephemeral overlay.
func (k *KeyDB) externalLookup(ctx context.Context, issuerDN string) error {
	candidates, err := k.dirmngr.Lookup(ctx, lookupPattern(issuerDN))
	if err != nil {
		return err
	}
	for _, der := range candidates {
		if err := k.storeEphemeral(ctx, der); err != nil && k.log != nil {
			k.log.Debug(fmt.Sprintf("issuerdb: failed to cache ephemeral cert: %v", err))
		}
	}
	return nil
}

// storeEphemeral parses der and indexes it under its subject DN and,
// if present, its subject DN plus subject key ID. No issuer+serial key
// is written, so ephemeral-mode searchByIssuerSerial probes do not find
// certificates stored here.
func (k *KeyDB) storeEphemeral(ctx context.Context, der []byte) error {
	if k.redis == nil {
		return nil
	}
	c, err := k.parse(der)
	if err != nil {
		return err
	}

	if err := k.ephemeralSet(ctx, "sub:"+c.SubjectDN(), der); err != nil {
		return err
	}
	if skid := c.SubjectKeyIdentifier(); len(skid) > 0 {
		if err := k.ephemeralSet(ctx, "ski:"+c.SubjectDN()+"|"+hex.EncodeToString(skid), der); err != nil {
			return err
		}
	}
	return nil
}

func (k *KeyDB) ephemeralGet(ctx context.Context, key string) ([]byte, error) {
	if k.redis == nil {
		return nil, nil
	}
	val, err := k.redis.Get(ctx, "ephemeral:"+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("issuerdb: ephemeral read: %w", err)
	}
	return val, nil
}

func (k *KeyDB) ephemeralSet(ctx context.Context, key string, der []byte) error {
	return k.redis.Set(ctx, "ephemeral:"+key, der, k.cfg.EphemeralTTL).Err()
}

func (k *KeyDB) parse(der []byte) (*certview.Certificate, error) {
	return certview.New(der, k.side)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
