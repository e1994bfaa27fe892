package issuerdb

import "testing"

func TestLookupPattern(t *testing.T) {
	cases := []struct {
		dn   string
		want string
	}{
		{"C=US,O=Example,CN=Example Root CA", "CN=Example Root CA"},
		{"O=Example,OU=PKI,CN=Intermediate", "CN=Intermediate"},
		{"O=NoCommonName", "O=NoCommonName"},
	}
	for _, c := range cases {
		if got := lookupPattern(c.dn); got != c.want {
			t.Errorf("lookupPattern(%q) = %q, want %q", c.dn, got, c.want)
		}
	}
}
