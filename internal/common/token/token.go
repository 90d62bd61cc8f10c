// Package token generates and verifies agent bearer tokens. Plaintext
// tokens are handed to the gateway once; only the hash is persisted.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

const rawTokenBytes = 32

// Generate returns a fresh URL-safe bearer token.
func Generate() string {
	buf := make([]byte, rawTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process cannot operate safely.
		panic("token: crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Hash returns the hex-encoded SHA-256 digest of a plaintext token.
func Hash(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Matches reports whether plaintext hashes to storedHash in constant time.
func Matches(plaintext, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	computed := Hash(plaintext)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
