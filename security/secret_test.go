package security

import (
	"errors"
	"strings"
	"testing"
)

func TestHashClientSecret(t *testing.T) {
	hash, err := HashClientSecret("test-secret")
	if err != nil {
		t.Fatalf("HashClientSecret() error = %v", err)
	}
	if hash == "" || hash == "test-secret" {
		t.Fatalf("hash = %q, want a non-empty bcrypt hash", hash)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("hash = %q, want bcrypt format", hash)
	}
}

func TestVerifyClientSecret(t *testing.T) {
	hash, err := HashClientSecret("test-secret")
	if err != nil {
		t.Fatalf("HashClientSecret() error = %v", err)
	}

	if err := VerifyClientSecret(hash, "test-secret"); err != nil {
		t.Errorf("VerifyClientSecret() with correct secret error = %v", err)
	}

	if err := VerifyClientSecret(hash, "wrong-secret"); !errors.Is(err, ErrSecretMismatch) {
		t.Errorf("VerifyClientSecret() with wrong secret error = %v, want ErrSecretMismatch", err)
	}

	if err := VerifyClientSecret(hash, ""); !errors.Is(err, ErrSecretMismatch) {
		t.Errorf("VerifyClientSecret() with empty secret error = %v, want ErrSecretMismatch", err)
	}
}

func TestVerifyClientSecret_PublicClient(t *testing.T) {
	// An empty stored hash means the client has no secret; any supplied
	// value passes.
	if err := VerifyClientSecret("", ""); err != nil {
		t.Errorf("VerifyClientSecret(\"\", \"\") error = %v", err)
	}
	if err := VerifyClientSecret("", "anything"); err != nil {
		t.Errorf("VerifyClientSecret(\"\", \"anything\") error = %v", err)
	}
}
