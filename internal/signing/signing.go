// Package signing produces and checks detached signer identities for
// tether binaries.
//
// A signed binary has a sibling "<binary>.sig" file holding an ed25519
// signature over the blake3 digest of the binary. Two binaries share a
// signer when their signature files verify and carry the same public key.
package signing

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"tether/internal/codec"
)

// DigestBLAKE3 names the only supported digest algorithm.
const DigestBLAKE3 = "blake3-256"

// SignatureSuffix is appended to a binary path to locate its signature.
const SignatureSuffix = ".sig"

var (
	// ErrUnsigned reports that a binary has no signature file.
	ErrUnsigned = errors.New("binary is not signed")
	// ErrInvalidSignature reports a signature that does not match its binary.
	ErrInvalidSignature = errors.New("signature does not match binary")
	// ErrSignerMismatch reports a valid signature from a different signer.
	ErrSignerMismatch = errors.New("signer does not match")
)

type signatureFile struct {
	PublicKey []byte `cbor:"public_key"`
	Signature []byte `cbor:"signature"`
	DigestAlg string `cbor:"digest_alg"`
}

type keyFile struct {
	Seed []byte `cbor:"seed"`
}

// Signer is the verified identity of whoever signed a binary.
type Signer struct {
	PublicKey ed25519.PublicKey
}

// Fingerprint returns a short printable identifier for the signer.
func (s Signer) Fingerprint() string {
	sum := blake3.Sum256(s.PublicKey)
	return "b3:" + hex.EncodeToString(sum[:16])
}

// Equal reports whether two signers hold the same key.
func (s Signer) Equal(other Signer) bool {
	return bytes.Equal(s.PublicKey, other.PublicKey)
}

// GenerateKey creates a new signing key, writes it to path with owner-only
// permissions, and returns the public half. An existing file is never
// overwritten.
func GenerateKey(path string) (ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	data, err := codec.Marshal(keyFile{Seed: priv.Seed()})
	if err != nil {
		return nil, fmt.Errorf("encode key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create key file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return nil, fmt.Errorf("write key file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("close key file: %w", err)
	}
	return pub, nil
}

// LoadKey reads a key written by GenerateKey.
func LoadKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	var kf keyFile
	if err := codec.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("decode key file: %w", err)
	}
	if len(kf.Seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("key file %s: seed must be %d bytes", path, ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(kf.Seed), nil
}

// Digest returns the blake3-256 digest of the file at path.
func Digest(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return nil, fmt.Errorf("hash %s: %w", path, err)
	}
	return hasher.Sum(nil), nil
}

// SignFile writes the detached signature for the binary at path.
func SignFile(key ed25519.PrivateKey, path string) (string, error) {
	digest, err := Digest(path)
	if err != nil {
		return "", err
	}
	sig := signatureFile{
		PublicKey: key.Public().(ed25519.PublicKey),
		Signature: ed25519.Sign(key, digest),
		DigestAlg: DigestBLAKE3,
	}
	data, err := codec.Marshal(sig)
	if err != nil {
		return "", fmt.Errorf("encode signature: %w", err)
	}
	sigPath := path + SignatureSuffix
	if err := os.WriteFile(sigPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write signature: %w", err)
	}
	return sigPath, nil
}

// Identity verifies the signature file of the binary at path and returns its
// signer. A missing signature file yields ErrUnsigned.
func Identity(path string) (Signer, error) {
	data, err := os.ReadFile(path + SignatureSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return Signer{}, ErrUnsigned
	}
	if err != nil {
		return Signer{}, fmt.Errorf("read signature: %w", err)
	}
	var sig signatureFile
	if err := codec.Unmarshal(data, &sig); err != nil {
		return Signer{}, fmt.Errorf("%w: decode: %v", ErrInvalidSignature, err)
	}
	if sig.DigestAlg != DigestBLAKE3 {
		return Signer{}, fmt.Errorf("%w: unsupported digest %q", ErrInvalidSignature, sig.DigestAlg)
	}
	if len(sig.PublicKey) != ed25519.PublicKeySize {
		return Signer{}, fmt.Errorf("%w: malformed public key", ErrInvalidSignature)
	}
	digest, err := Digest(path)
	if err != nil {
		return Signer{}, err
	}
	if !ed25519.Verify(sig.PublicKey, digest, sig.Signature) {
		return Signer{}, ErrInvalidSignature
	}
	return Signer{PublicKey: ed25519.PublicKey(sig.PublicKey)}, nil
}
