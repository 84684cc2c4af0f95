package signing

import (
	"errors"
	"fmt"
)

// Verifier checks that a peer binary was signed by the expected signer.
type Verifier interface {
	VerifySigner(path string) error
}

// SameSigner accepts binaries signed by the same key as a reference binary.
type SameSigner struct {
	expected *Signer
}

// NewSameSigner derives the expected signer from the running agent binary.
// When the agent itself is unsigned the returned verifier accepts every
// binary, matching how unsigned development builds are run.
func NewSameSigner(agentPath string) (*SameSigner, error) {
	signer, err := Identity(agentPath)
	if errors.Is(err, ErrUnsigned) {
		return &SameSigner{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("agent signature: %w", err)
	}
	return &SameSigner{expected: &signer}, nil
}

// ForSigner returns a verifier pinned to signer.
func ForSigner(signer Signer) *SameSigner {
	return &SameSigner{expected: &signer}
}

// Enforcing reports whether the verifier rejects anything.
func (v *SameSigner) Enforcing() bool { return v.expected != nil }

// Expected returns the pinned signer, if any.
func (v *SameSigner) Expected() (Signer, bool) {
	if v.expected == nil {
		return Signer{}, false
	}
	return *v.expected, true
}

func (v *SameSigner) VerifySigner(path string) error {
	if v.expected == nil {
		return nil
	}
	signer, err := Identity(path)
	if err != nil {
		return err
	}
	if !signer.Equal(*v.expected) {
		return fmt.Errorf("%w: got %s want %s", ErrSignerMismatch, signer.Fingerprint(), v.expected.Fingerprint())
	}
	return nil
}
