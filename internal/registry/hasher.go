package registry

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher is a deterministic one-way hash over byte strings.
type Hasher interface {
	Sum(b []byte) []byte
}

type sha256Hasher struct{}

func (sha256Hasher) Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

// SHA256 is the hasher used by default.
var SHA256 Hasher = sha256Hasher{}

// SolutionHash returns the lower-case hex digest of a solution string, which
// is the key a puzzle is stored under.
func SolutionHash(h Hasher, solution string) string {
	if h == nil {
		h = SHA256
	}
	return hex.EncodeToString(h.Sum([]byte(solution)))
}
