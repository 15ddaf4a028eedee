package pending

import (
	"crypto/rand"
	"fmt"
	"time"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// newSuffix draws 6 characters from [a-z0-9] using a cryptographically
// strong RNG (spec §9: "six characters give ~2.2 billion possibilities
// per second-bucket").
func newSuffix() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("pending: reading random bytes: %w", err)
	}
	out := make([]byte, 6)
	for i, b := range buf {
		out[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(out), nil
}

// generateID builds a `pnd_YYYYMMDD_HHMMSS_<6-char>` id for now (UTC).
func generateID(now time.Time) (string, error) {
	suffix, err := newSuffix()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("pnd_%s_%s", now.UTC().Format("20060102_150405"), suffix), nil
}

// maxIDCollisionRetries bounds the retry loop so a corrupted store file
// can't spin forever on collision detection (spec §4.4/§9: collisions
// are astronomically unlikely, not impossible to bound).
const maxIDCollisionRetries = 8
