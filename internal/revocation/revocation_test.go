package revocation

import "testing"

func TestRevokeAndCheck(t *testing.T) {
	s := New(16)
	token := "abc123"

	if s.IsRevoked(token) {
		t.Fatal("expected token to not be revoked initially")
	}

	s.Revoke(token)

	if !s.IsRevoked(token) {
		t.Fatal("expected token to be revoked after Revoke")
	}
}

func TestHashIsStableAndTruncated(t *testing.T) {
	h1 := Hash("same-token")
	h2 := Hash("same-token")
	if h1 != h2 {
		t.Fatal("expected hash to be deterministic")
	}
	if len(h1) != 32 { // 16 bytes hex-encoded
		t.Fatalf("expected 32 hex chars, got %d", len(h1))
	}
}

func TestDistinctTokensDoNotCollide(t *testing.T) {
	s := New(16)
	s.Revoke("token-a")

	if s.IsRevoked("token-b") {
		t.Fatal("expected unrelated token to not be revoked")
	}
}
