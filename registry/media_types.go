package registry

import (
	"mime"
	"slices"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Manifest media types.
const (
	// MediaTypeOCIManifest is the OCI image manifest.
	MediaTypeOCIManifest = ocispec.MediaTypeImageManifest

	// MediaTypeOCIIndex is the OCI image index.
	MediaTypeOCIIndex = ocispec.MediaTypeImageIndex

	// MediaTypeDockerManifest is the Docker image manifest, schema 2.
	MediaTypeDockerManifest = "application/vnd.docker.distribution.manifest.v2+json"

	// MediaTypeDockerManifestList is the Docker manifest list.
	MediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
)

// DefaultAccept is the manifest media type preference used by GetManifest.
var DefaultAccept = []string{
	MediaTypeOCIManifest,
	MediaTypeOCIIndex,
	MediaTypeDockerManifest,
	MediaTypeDockerManifestList,
}

// acceptHeader joins media types into an Accept header value, most
// preferred first.
func acceptHeader(mediaTypes []string) string {
	return strings.Join(mediaTypes, ", ")
}

// baseMediaType strips parameters such as charset from a Content-Type value.
func baseMediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.TrimSpace(contentType)
	}
	return mt
}

// accepts reports whether mediaType is one of accepted.
func accepts(accepted []string, mediaType string) bool {
	return slices.Contains(accepted, mediaType)
}
