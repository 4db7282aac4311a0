// Package fingerprint derives stable content hashes and deduplicating
// remote object names for uploaded documents.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

const (
	// shortHashLen is the number of hex characters of a digest embedded
	// in a stable name. Enough to make collisions between distinct
	// contents of the same note vanishingly unlikely while keeping
	// names readable.
	shortHashLen = 8

	// fallbackBase replaces note names that sanitize to nothing.
	fallbackBase = "note"
)

// Hash returns the SHA-256 hex digest of text. Deterministic, handles
// empty input.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// StableName derives the remote object name for a document so that
// uploading unchanged content twice produces the same name and the remote
// deduplicates instead of accumulating copies. The identity digest keeps
// two notes with the same base name (or colliding content hashes) from
// mapping to the same remote object.
//
// Shape: <sanitized-base>_<identity-digest>_<content-hash-prefix><ext>
func StableName(identity, originalName, contentHash string) string {
	ext := filepath.Ext(originalName)
	base := strings.TrimSuffix(filepath.Base(originalName), ext)

	base = sanitize(base)
	if base == "" {
		base = fallbackBase
	}

	idDigest := Hash(identity)[:shortHashLen]

	hashPart := contentHash
	if len(hashPart) > shortHashLen {
		hashPart = hashPart[:shortHashLen]
	}

	return base + "_" + idDigest + "_" + hashPart + ext
}

// sanitize keeps letters, digits, dots, underscores and dashes, replacing
// every other rune with a dash. Leading and trailing dashes are trimmed.
func sanitize(name string) string {
	var b strings.Builder

	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}

	return strings.Trim(b.String(), "-")
}
