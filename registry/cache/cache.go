// Package cache provides manifest caches for the registry client.
//
// Only digest-addressed manifests are cached: their content cannot change
// without changing the key. Tag lookups and attribute data always go to the
// registry.
package cache

import (
	"github.com/opencontainers/go-digest"
)

// Entry is a cached manifest.
type Entry struct {
	MediaType string
	Content   []byte
}

// Manifests caches manifests by repository and digest.
//
// Implementations must be safe for concurrent use and must only return
// content whose digest is dgst.
type Manifests interface {
	// Get returns the cached manifest repo@dgst.
	Get(repo string, dgst digest.Digest) (Entry, bool)

	// Put stores a manifest under repo@dgst.
	Put(repo string, dgst digest.Digest, entry Entry)

	// Delete removes repo@dgst. Deleting a missing entry is a no-op.
	Delete(repo string, dgst digest.Digest)
}
