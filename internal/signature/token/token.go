package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const rawSize = 32

// New returns a fresh signing token and the hash that is persisted in its place.
func New() (raw string, hash string, err error) {
	buf := make([]byte, rawSize)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate signing token: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, Hash(raw), nil
}

func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
