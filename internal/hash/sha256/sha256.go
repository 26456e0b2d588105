// Package sha256 names page snapshots by their content.
package sha256

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
)

var crlf = []byte("\r\n")

// Hasher digests snapshot content with SHA-256. Line endings are folded to
// "\n" first, so the same page served with CRLF and LF endings maps to one
// snapshot key.
type Hasher struct{}

// New returns a Hasher. It implements crawler.Hasher.
func New() Hasher {
	return Hasher{}
}

// Hash returns the lowercase hex digest of data.
func (Hasher) Hash(data []byte) (string, error) {
	d := sha256.New()
	for len(data) > 0 {
		i := bytes.Index(data, crlf)
		if i < 0 {
			d.Write(data)
			break
		}
		d.Write(data[:i])
		d.Write(crlf[1:])
		data = data[i+len(crlf):]
	}
	return hex.EncodeToString(d.Sum(nil)), nil
}
