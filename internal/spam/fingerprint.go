package spam

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Hash is the hex digest of normalized message text.
type Hash string

// Fingerprint trims and lowercases text before hashing it. Callers skip
// empty or whitespace-only text before calling.
func Fingerprint(text string) Hash {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(text))))
	return Hash(hex.EncodeToString(sum[:]))
}
