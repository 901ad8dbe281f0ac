package registry

import (
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// NewTestManifest creates a small OCI image manifest for testing purposes.
// Different seeds yield different digests.
// This is not intended for production use.
func NewTestManifest(seed string, created time.Time) Manifest {
	config := ocispec.Descriptor{
		MediaType: ocispec.MediaTypeImageConfig,
		Digest:    digest.FromString("test-config-" + seed),
		Size:      int64(len("test-config-" + seed)),
	}
	layer := ocispec.Descriptor{
		MediaType: ocispec.MediaTypeImageLayerGzip,
		Digest:    digest.FromString("test-layer-" + seed),
		Size:      int64(len("test-layer-" + seed)),
	}
	m, err := NewOCIManifest(config, []ocispec.Descriptor{layer}, map[string]string{
		ocispec.AnnotationCreated: created.UTC().Format(time.RFC3339),
	})
	if err != nil {
		// Marshaling a fixed descriptor set cannot fail.
		panic(err)
	}
	return m
}
