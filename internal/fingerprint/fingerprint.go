// Package fingerprint computes content addresses for uploaded bytes.
package fingerprint

import (
	_ "crypto/sha256"

	"github.com/opencontainers/go-digest"
)

// Of returns the sha256 digest of data in "sha256:<hex>" form. The value
// depends on the bytes only, so it is stable across processes.
func Of(data []byte) digest.Digest {
	return digest.FromBytes(data)
}

// ObjectKey returns the blob key for content with the given digest and
// file extension.
func ObjectKey(d digest.Digest, ext string) string {
	return d.Encoded() + ext
}
