package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// RandomBytes reads n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("reading %d random bytes: %w", n, err)
	}
	return b, nil
}

// RandomToken returns n random bytes as lowercase hex.
func RandomToken(n int) (string, error) {
	b, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	defer WipeBytes(b)
	return hex.EncodeToString(b), nil
}

// NormalizeBytes returns a fresh NFKD-normalized copy of b. The copy can be
// wiped without touching b.
func NormalizeBytes(b []byte) []byte {
	return norm.NFKD.Append(nil, b...)
}

// WipeBytes zeroes b in place.
func WipeBytes(b []byte) {
	clear(b)
}
