package registry

import (
	"encoding/json"
	"fmt"

	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/meigma/acr/content"
	"github.com/meigma/acr/errdef"
)

// defaultMaxManifestBytes matches the manifest size limit of common registries.
const defaultMaxManifestBytes = 4 << 20

// Manifest is a manifest payload with its media type.
//
// Content is the exact byte serialization sent to and received from the
// registry. The digest is always derived from it.
type Manifest struct {
	MediaType string
	Content   []byte
}

// NewManifest serializes v once and returns it as a Manifest of mediaType.
// The same bytes are later transmitted and digested.
func NewManifest(mediaType string, v any) (Manifest, error) {
	if mediaType == "" {
		return Manifest{}, fmt.Errorf("%w: empty media type", errdef.ErrUnsupportedMediaType)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Manifest{}, fmt.Errorf("marshal manifest: %w", err)
	}
	return Manifest{MediaType: mediaType, Content: raw}, nil
}

// NewOCIManifest builds an OCI image manifest referencing config and layers.
func NewOCIManifest(config ocispec.Descriptor, layers []ocispec.Descriptor, annotations map[string]string) (Manifest, error) {
	if layers == nil {
		layers = []ocispec.Descriptor{}
	}
	return NewManifest(MediaTypeOCIManifest, ocispec.Manifest{
		Versioned:   specs.Versioned{SchemaVersion: 2},
		MediaType:   MediaTypeOCIManifest,
		Config:      config,
		Layers:      layers,
		Annotations: annotations,
	})
}

// NewOCIIndex builds an OCI image index referencing manifests.
func NewOCIIndex(manifests ...Manifest) (Manifest, error) {
	descs := make([]ocispec.Descriptor, 0, len(manifests))
	for _, m := range manifests {
		descs = append(descs, m.Descriptor())
	}
	return NewManifest(MediaTypeOCIIndex, ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: MediaTypeOCIIndex,
		Manifests: descs,
	})
}

// Digest returns the digest of the manifest content.
func (m Manifest) Digest() digest.Digest {
	return content.ComputeDigest(m.Content)
}

// Descriptor returns an OCI descriptor for the manifest.
func (m Manifest) Descriptor() ocispec.Descriptor {
	return ocispec.Descriptor{
		MediaType: m.MediaType,
		Digest:    m.Digest(),
		Size:      int64(len(m.Content)),
	}
}

// OCI decodes the content as an OCI image manifest.
func (m Manifest) OCI() (ocispec.Manifest, error) {
	if m.MediaType != MediaTypeOCIManifest {
		return ocispec.Manifest{}, fmt.Errorf("%w: %s is not an OCI image manifest", errdef.ErrUnsupportedMediaType, m.MediaType)
	}
	var out ocispec.Manifest
	if err := json.Unmarshal(m.Content, &out); err != nil {
		return ocispec.Manifest{}, fmt.Errorf("decode OCI manifest: %w", err)
	}
	return out, nil
}

// ManifestOption configures GetManifest.
type ManifestOption func(*manifestConfig)

type manifestConfig struct {
	accept []string
}

// WithAccept sets the accepted manifest media types, most preferred first.
// It replaces DefaultAccept.
func WithAccept(mediaTypes ...string) ManifestOption {
	return func(cfg *manifestConfig) {
		if len(mediaTypes) > 0 {
			cfg.accept = mediaTypes
		}
	}
}

// sniffMediaType reads the mediaType field of a manifest body, for
// registries that omit Content-Type.
func sniffMediaType(raw []byte) string {
	var probe struct {
		MediaType string `json:"mediaType"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.MediaType
}
