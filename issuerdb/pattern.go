package issuerdb

import "strings"

// lookupPattern derives the Dirmngr query pattern from an issuer DN,
// per spec §4.2 step 3: if the DN contains ",CN=", take the substring
// starting at "CN="; otherwise use the whole DN.
func lookupPattern(issuerDN string) string {
	if idx := strings.Index(issuerDN, ",CN="); idx != -1 {
		return issuerDN[idx+1:]
	}
	return issuerDN
}
