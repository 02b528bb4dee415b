// Package artifact decides whether a build output changed since it was last
// observed.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// Fingerprint is the content identity of one artifact version. Two equal
// fingerprints mean the artifacts are byte-identical.
type Fingerprint string

// Short returns the first 12 hex characters, enough for display.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

// Sum fingerprints data.
func Sum(data []byte) Fingerprint {
	sum := sha256.Sum256(data)
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// FingerprintFile reads path fully and fingerprints its content.
func FingerprintFile(path string) (Fingerprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("artifact: read %s: %w", path, err)
	}
	return Sum(data), nil
}
