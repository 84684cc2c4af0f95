package signing_test

import (
	"crypto/ed25519"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tether/internal/signing"
	"tether/internal/testsupport"
)

func newKey(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if _, err := signing.GenerateKey(path); err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return path
}

func signWith(t *testing.T, keyPath, binary string) {
	t.Helper()
	key, err := signing.LoadKey(keyPath)
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if _, err := signing.SignFile(key, binary); err != nil {
		t.Fatalf("SignFile: %v", err)
	}
}

func TestSignAndIdentityRoundTrip(t *testing.T) {
	dir := t.TempDir()
	keyPath := newKey(t, dir, "key")
	binary := testsupport.WriteFile(t, filepath.Join(dir, "tether-desktop"), "binary-bytes")
	signWith(t, keyPath, binary)

	signer, err := signing.Identity(binary)
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	key, _ := signing.LoadKey(keyPath)
	if !signer.Equal(signing.Signer{PublicKey: key.Public().(ed25519.PublicKey)}) {
		t.Fatal("signer does not match key")
	}
	if len(signer.Fingerprint()) != len("b3:")+32 {
		t.Fatalf("unexpected fingerprint %q", signer.Fingerprint())
	}
}

func TestGenerateKeyRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	keyPath := newKey(t, dir, "key")
	if _, err := signing.GenerateKey(keyPath); err == nil {
		t.Fatal("expected second GenerateKey to fail")
	}
	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("stat key: %v", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		t.Fatalf("key file is group/world accessible: %v", info.Mode())
	}
}

func TestIdentityDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	keyPath := newKey(t, dir, "key")
	binary := testsupport.WriteFile(t, filepath.Join(dir, "tether-desktop"), "original")
	signWith(t, keyPath, binary)

	testsupport.WriteFile(t, binary, "tampered")
	if _, err := signing.Identity(binary); !errors.Is(err, signing.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestIdentityUnsigned(t *testing.T) {
	binary := testsupport.WriteFile(t, filepath.Join(t.TempDir(), "plain"), "x")
	if _, err := signing.Identity(binary); !errors.Is(err, signing.ErrUnsigned) {
		t.Fatalf("expected ErrUnsigned, got %v", err)
	}
}

func TestSameSignerVerifier(t *testing.T) {
	dir := t.TempDir()
	agentKey := newKey(t, dir, "agent.key")
	otherKey := newKey(t, dir, "other.key")

	agent := testsupport.WriteFile(t, filepath.Join(dir, "tetherd"), "agent")
	good := testsupport.WriteFile(t, filepath.Join(dir, "good"), "companion")
	bad := testsupport.WriteFile(t, filepath.Join(dir, "bad"), "companion")
	unsigned := testsupport.WriteFile(t, filepath.Join(dir, "unsigned"), "companion")
	signWith(t, agentKey, agent)
	signWith(t, agentKey, good)
	signWith(t, otherKey, bad)

	verifier, err := signing.NewSameSigner(agent)
	if err != nil {
		t.Fatalf("NewSameSigner: %v", err)
	}
	if !verifier.Enforcing() {
		t.Fatal("expected enforcing verifier for signed agent")
	}
	if err := verifier.VerifySigner(good); err != nil {
		t.Fatalf("expected same signer to pass: %v", err)
	}
	if err := verifier.VerifySigner(bad); !errors.Is(err, signing.ErrSignerMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := verifier.VerifySigner(unsigned); !errors.Is(err, signing.ErrUnsigned) {
		t.Fatalf("expected unsigned rejection, got %v", err)
	}
}

func TestSameSignerSkipsForUnsignedAgent(t *testing.T) {
	dir := t.TempDir()
	agent := testsupport.WriteFile(t, filepath.Join(dir, "tetherd"), "agent")
	verifier, err := signing.NewSameSigner(agent)
	if err != nil {
		t.Fatalf("NewSameSigner: %v", err)
	}
	if verifier.Enforcing() {
		t.Fatal("unsigned agent should not enforce")
	}
	if err := verifier.VerifySigner(filepath.Join(dir, "missing")); err != nil {
		t.Fatalf("expected skip, got %v", err)
	}
}
