// Package crypto provides the signing, hashing, and token-generation
// primitives shared across the API key, webhook, and idempotency-key paths.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// HashAPIKey returns the SHA-256 hex digest of an API key, the form stored
// and looked up in the api_keys table so raw keys never touch disk.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Sign computes the hex-encoded HMAC-SHA256 of message under secret.
func Sign(secret, message []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(message)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether signature is the valid hex HMAC-SHA256 of message
// under secret, using a constant-time comparison.
func Verify(secret, message []byte, signature string) bool {
	expected := Sign(secret, message)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// GenerateToken returns a random URL-safe token built from n random bytes
// (the encoded string is longer than n).
func GenerateToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(buf), nil
}

// GenerateAPIKey returns a new plaintext API key with a recognisable
// prefix, along with its SHA-256 hash for storage.
func GenerateAPIKey(prefix string) (plaintext, hash string, err error) {
	token, err := GenerateToken(32)
	if err != nil {
		return "", "", err
	}
	plaintext = prefix + "_" + token
	hash = HashAPIKey(plaintext)
	return plaintext, hash, nil
}
