package dirmngr

import (
	"encoding/pem"
	"io"
)

// pemBundleDecoder streams DER certificates out of a PEM-encoded
// bundle response body, the format Dirmngr's lookup endpoint returns
// for a directory pattern match (possibly several candidates).
type pemBundleDecoder struct {
	rest []byte
}

func newPEMBundleDecoder(r io.Reader) *pemBundleDecoder {
	data, err := io.ReadAll(io.LimitReader(r, 5<<20))
	if err != nil {
		return &pemBundleDecoder{}
	}
	return &pemBundleDecoder{rest: data}
}

// Next returns the DER bytes of the next CERTIFICATE block, or
// ok == false once the bundle is exhausted.
func (d *pemBundleDecoder) Next() ([]byte, bool) {
	for len(d.rest) > 0 {
		block, rest := pem.Decode(d.rest)
		d.rest = rest
		if block == nil {
			return nil, false
		}
		if block.Type == "CERTIFICATE" {
			return block.Bytes, true
		}
	}
	return nil, false
}
