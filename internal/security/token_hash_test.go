package security

import "testing"

func TestHashTokenHex_Deterministic(t *testing.T) {
	a := HashTokenHex("some-token")
	b := HashTokenHex("some-token")
	if a != b {
		t.Error("same token produced different hashes")
	}
	if len(a) != 64 {
		t.Errorf("hash length: got %d, want 64", len(a))
	}
	if HashTokenHex("other-token") == a {
		t.Error("different tokens produced same hash")
	}
}

func TestTokenHashEqual(t *testing.T) {
	hash := HashTokenHex("some-token")
	if !TokenHashEqual("some-token", hash) {
		t.Error("TokenHashEqual: got false for matching token")
	}
	if TokenHashEqual("other-token", hash) {
		t.Error("TokenHashEqual: got true for non-matching token")
	}
	if TokenHashEqual("some-token", "") {
		t.Error("TokenHashEqual: got true for empty stored hash")
	}
}

func TestNewOpaqueToken(t *testing.T) {
	plain, hash, err := NewOpaqueToken(32)
	if err != nil {
		t.Fatalf("NewOpaqueToken: %v", err)
	}
	if plain == "" || hash == "" {
		t.Fatal("empty token or hash")
	}
	if hash != HashTokenHex(plain) {
		t.Error("hash does not match plain token")
	}
	plain2, _, err := NewOpaqueToken(32)
	if err != nil {
		t.Fatalf("NewOpaqueToken: %v", err)
	}
	if plain == plain2 {
		t.Error("two generated tokens are identical")
	}
}
