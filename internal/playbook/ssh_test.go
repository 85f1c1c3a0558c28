package playbook

import (
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestAuthMethodsForPassword(t *testing.T) {
	methods, err := authMethodsFor(Credential{Username: "trainee", Password: "hunter2"})
	if err != nil {
		t.Fatalf("auth methods: %v", err)
	}
	if len(methods) != 1 {
		t.Fatalf("expected exactly one auth method, got %d", len(methods))
	}
}

func TestAuthMethodsForPrivateKey(t *testing.T) {
	_, priv, err := generateTestKey(t)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	methods, err := authMethodsFor(Credential{Username: "trainee", KeyPEM: priv})
	if err != nil {
		t.Fatalf("auth methods: %v", err)
	}
	if len(methods) != 1 {
		t.Fatalf("expected exactly one auth method, got %d", len(methods))
	}
}

func TestAuthMethodsForEmptyCredentialFails(t *testing.T) {
	if _, err := authMethodsFor(Credential{Username: "trainee"}); err == nil {
		t.Fatalf("expected error for credential with neither key nor password")
	}
}

// generateTestKey returns a PEM-encoded ed25519 private key usable by
// ssh.ParsePrivateKey, for exercising the key-based auth path without a
// live SSH server.
func generateTestKey(t *testing.T) (ssh.PublicKey, []byte, error) {
	t.Helper()
	return ed25519TestKeyPEM()
}
