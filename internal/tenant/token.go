package tenant

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Token wire format: "tenant:{tenantId}:{base64url-secret}". The secret is
// 32 bytes of cryptographic randomness; only its SHA-256 is ever persisted
// and the plaintext is returned exactly once, at create or rotate.

const tokenPrefix = "tenant:"

const secretLen = 32

// GenerateSecret returns a fresh URL-safe secret string.
func GenerateSecret() (string, error) {
	buf := make([]byte, secretLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate tenant secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// BuildToken assembles the wire form of a tenant token.
func BuildToken(tenantID, secret string) string {
	return tokenPrefix + tenantID + ":" + secret
}

// ParseToken splits a wire token into tenant id and secret. It rejects
// tokens without the "tenant:" prefix, with an invalid tenant id segment, or
// with an empty secret segment.
func ParseToken(token string) (tenantID, secret string, err error) {
	rest, ok := strings.CutPrefix(token, tokenPrefix)
	if !ok {
		return "", "", ErrInvalidToken
	}
	tenantID, secret, ok = strings.Cut(rest, ":")
	if !ok || secret == "" {
		return "", "", ErrInvalidToken
	}
	if err := ValidateID(tenantID); err != nil {
		return "", "", ErrInvalidToken
	}
	return tenantID, secret, nil
}

// HashSecret returns the hex-encoded SHA-256 of a secret, the only form in
// which secrets are persisted.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// VerifySecret compares a presented secret against a stored hex hash in
// constant time. Both sides are reduced to 32-byte SHA-256 digests before
// comparison so the byte strings always have equal length.
func VerifySecret(secret, storedHash string) bool {
	stored, err := hex.DecodeString(storedHash)
	if err != nil || len(stored) != sha256.Size {
		return false
	}
	presented := sha256.Sum256([]byte(secret))
	return subtle.ConstantTimeCompare(presented[:], stored) == 1
}
