package id

import (
	"crypto/rand"
	"encoding/hex"
)

// New returns a random 16-byte hex token used for job IDs and artifact
// reference suffixes.
func New() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "fallback-id"
	}
	return hex.EncodeToString(b[:])
}

// Short returns an 8-character token for artifact name suffixes where the
// full token would make references unwieldy.
func Short() string {
	return New()[:8]
}
