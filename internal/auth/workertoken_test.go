package auth

import (
	"testing"

	"github.com/google/uuid"
)

func TestGenerateSyncTokenRoundTrip(t *testing.T) {
	id := uuid.New()
	raw, hash, err := GenerateSyncToken(id)
	if err != nil {
		t.Fatalf("GenerateSyncToken() error = %v", err)
	}

	gotID, ok := WorkerIDFromToken(raw)
	if !ok || gotID != id {
		t.Errorf("WorkerIDFromToken() = (%v, %v), want (%v, true)", gotID, ok, id)
	}

	if !VerifyHash(raw, hash) {
		t.Error("VerifyHash() = false, want true for matching token")
	}
	if VerifyHash(raw+"x", hash) {
		t.Error("VerifyHash() = true, want false for tampered token")
	}
}

func TestWorkerIDFromToken_Malformed(t *testing.T) {
	if _, ok := WorkerIDFromToken("not-a-valid-token"); ok {
		t.Error("WorkerIDFromToken() = true, want false for malformed token")
	}
}
