package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
)

// ObjectKey builds the storage path for an image:
// <category_code>/<hh>/<hh>/<hash><ext>, where hh are the first two byte
// pairs of the content hash. The key must remain byte-identical across
// endpoints for a given image, so it is derived only from immutable fields.
func ObjectKey(categoryCode, hash, ext string) string {
	if categoryCode == "" {
		categoryCode = "uncategorized"
	}

	return path.Join(categoryCode, hash[:2], hash[2:4], hash+ext)
}

// HashReader consumes r and returns the hex-encoded SHA-256 of its contents
// along with the number of bytes read.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash content: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), n, nil
}
