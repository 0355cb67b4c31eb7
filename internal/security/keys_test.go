package security

import (
	"crypto/rsa"
	"os"
	"path/filepath"
	"testing"
)

func TestParsePrivateKey_InlinePEM(t *testing.T) {
	signer, err := ParsePrivateKey(testPrivateKeyPEM)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	if _, ok := signer.(*rsa.PrivateKey); !ok {
		t.Errorf("key type: got %T, want *rsa.PrivateKey", signer)
	}
}

func TestParsePublicKey_InlinePEM(t *testing.T) {
	pub, err := ParsePublicKey(testPublicKeyPEM)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	if _, ok := pub.(*rsa.PublicKey); !ok {
		t.Errorf("key type: got %T, want *rsa.PublicKey", pub)
	}
}

func TestParsePrivateKey_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.pem")
	if err := os.WriteFile(path, []byte(testPrivateKeyPEM), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ParsePrivateKey(path); err != nil {
		t.Fatalf("ParsePrivateKey(path): %v", err)
	}
}

func TestParseKeys_Invalid(t *testing.T) {
	if _, err := ParsePrivateKey("not a key"); err == nil {
		t.Error("ParsePrivateKey: want error for garbage input")
	}
	if _, err := ParsePublicKey(""); err == nil {
		t.Error("ParsePublicKey: want error for empty input")
	}
}
