// Package content computes and verifies content digests for manifests.
//
// Digests are always computed over the exact bytes that are transmitted.
// Callers serialize a manifest once and reuse the same byte slice for both
// the request body and the digest.
package content

import (
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/acr/errdef"
)

// ComputeDigest returns the canonical (sha256) digest of payload.
func ComputeDigest(payload []byte) digest.Digest {
	return digest.Canonical.FromBytes(payload)
}

// VerifyDigest reports whether payload matches expected.
// A malformed expected digest never matches.
func VerifyDigest(payload []byte, expected digest.Digest) bool {
	if err := expected.Validate(); err != nil {
		return false
	}
	verifier := expected.Verifier()
	if _, err := verifier.Write(payload); err != nil {
		return false
	}
	return verifier.Verified()
}

// Verify is VerifyDigest returning an ErrDigestMismatch error on failure.
func Verify(payload []byte, expected digest.Digest) error {
	if err := expected.Validate(); err != nil {
		return fmt.Errorf("%w: %q: %v", errdef.ErrInvalidReference, expected, err)
	}
	if !VerifyDigest(payload, expected) {
		return fmt.Errorf("%w: expected %s, got %s", errdef.ErrDigestMismatch, expected, expected.Algorithm().FromBytes(payload))
	}
	return nil
}

// ParseDigest parses and validates s as a digest.
func ParseDigest(s string) (digest.Digest, error) {
	d, err := digest.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", errdef.ErrInvalidReference, s, err)
	}
	return d, nil
}

// IsDigest reports whether reference is a well-formed digest rather than a tag.
func IsDigest(reference string) bool {
	_, err := digest.Parse(reference)
	return err == nil
}
