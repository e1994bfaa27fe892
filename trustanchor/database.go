package trustanchor

import "github.com/letsencrypt/borp"

// InitTables registers the trust_anchors table mapping on dbMap,
// meant to be called once alongside issuerdb's own table registration
// against the same DbMap (both collaborators share one schema).
func InitTables(dbMap *borp.DbMap) {
	dbMap.AddTableWithName(trustRow{}, "trust_anchors").SetKeys(false, "Fingerprint")
}
