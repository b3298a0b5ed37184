// Package auth issues and verifies worker sync tokens: the bearer
// credential a worker agent presents on every inbound call.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// randomSuffixBytes is the byte length of a sync token's random suffix.
const randomSuffixBytes = 32

var idEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSyncToken creates a new bearer token for workerID: a 26-char
// base32 encoding of the worker id, joined by ":" to a base64url-encoded
// 32-byte random suffix. It returns the raw token (shown once) and the
// SHA-256 hash to persist.
func GenerateSyncToken(workerID uuid.UUID) (raw, hash string, err error) {
	suffix := make([]byte, randomSuffixBytes)
	if _, err := rand.Read(suffix); err != nil {
		return "", "", fmt.Errorf("generating sync token suffix: %w", err)
	}

	raw = idEncoding.EncodeToString(workerID[:]) + ":" + base64.RawURLEncoding.EncodeToString(suffix)
	h := sha256.Sum256([]byte(raw))
	hash = hex.EncodeToString(h[:])
	return raw, hash, nil
}

// HashSyncToken returns the SHA-256 hex digest of a presented token, for
// comparison against the stored hash.
func HashSyncToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// WorkerIDFromToken decodes the worker id prefix out of a presented token,
// without verifying it — used only to route the lookup; authentication still
// requires the hash comparison against the stored value.
func WorkerIDFromToken(raw string) (uuid.UUID, bool) {
	prefix, _, ok := strings.Cut(raw, ":")
	if !ok {
		return uuid.Nil, false
	}
	decoded, err := idEncoding.DecodeString(prefix)
	if err != nil || len(decoded) != 16 {
		return uuid.Nil, false
	}
	id, err := uuid.FromBytes(decoded)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// VerifyHash reports whether presented's SHA-256 hash matches stored, via a
// constant-time comparison.
func VerifyHash(presented, stored string) bool {
	presentedHash := HashSyncToken(presented)
	return subtle.ConstantTimeCompare([]byte(presentedHash), []byte(stored)) == 1
}
