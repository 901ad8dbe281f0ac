//go:build integration

package integration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"oras.land/oras-go/v2/registry/remote"

	"github.com/meigma/acr"
	"github.com/meigma/acr/registry"
)

// --- Registry Container Setup ---

var (
	registryOnce sync.Once
	registryAddr string
	registryErr  error
)

// getRegistry returns the shared registry address, starting the container if needed.
// The container is shared across all tests for performance.
func getRegistry(tb testing.TB) string {
	tb.Helper()

	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}

	registryOnce.Do(func() {
		ctx := context.Background()
		registryAddr, registryErr = startRegistryContainer(ctx)
	})

	if registryErr != nil {
		tb.Fatalf("start registry container: %v", registryErr)
	}

	return registryAddr
}

// startRegistryContainer starts a registry:2 container with deletes enabled
// and returns the host:port address.
func startRegistryContainer(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "registry:2",
		ExposedPorts: []string{"5000/tcp"},
		Env: map[string]string{
			"REGISTRY_STORAGE_DELETE_ENABLED": "true",
		},
		WaitingFor: wait.ForHTTP("/v2/").WithPort("5000/tcp").WithStatusCodeMatcher(isOKStatus),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start registry container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve registry host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5000/tcp")
	if err != nil {
		return "", fmt.Errorf("resolve registry port: %w", err)
	}

	return fmt.Sprintf("%s:%s", host, port.Port()), nil
}

func isOKStatus(status int) bool {
	return status >= 200 && status < 300
}

// --- Test Client Factory ---

// newTestClient creates a client configured for the local test registry.
// registry:2 has no ACR attribute API, so it is disabled.
func newTestClient(tb testing.TB, registryAddr string, opts ...acr.Option) *acr.Client {
	tb.Helper()

	allOpts := append([]acr.Option{acr.WithPlainHTTP(true), acr.WithLegacyAPI(false)}, opts...)

	client, err := acr.NewClient(registryAddr, allOpts...)
	require.NoError(tb, err, "create test client")

	return client
}

// --- Test Data Helpers ---

// testRepo generates a unique repository name for a test to avoid collisions.
func testRepo(testName string) string {
	return "test/" + strings.ToLower(strings.NewReplacer("/", "-", "_", "-").Replace(testName))
}

// pushBlob uploads data to repo through ORAS. registry:2 rejects manifests
// whose blobs it does not have.
func pushBlob(tb testing.TB, registryAddr, repo, mediaType string, data []byte) ocispec.Descriptor {
	tb.Helper()

	r, err := remote.NewRepository(registryAddr + "/" + repo)
	require.NoError(tb, err)
	r.PlainHTTP = true

	desc := ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromBytes(data),
		Size:      int64(len(data)),
	}
	err = r.Blobs().Push(context.Background(), desc, bytes.NewReader(data))
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		require.NoError(tb, err, "push blob")
	}
	return desc
}

// newManifest uploads a config and one layer derived from seed and returns
// an OCI manifest referencing them.
func newManifest(tb testing.TB, registryAddr, repo, seed string) registry.Manifest {
	tb.Helper()

	config := pushBlob(tb, registryAddr, repo, ocispec.MediaTypeImageConfig,
		[]byte(fmt.Sprintf(`{"architecture":"amd64","os":"linux","seed":%q}`, seed)))
	layer := pushBlob(tb, registryAddr, repo, ocispec.MediaTypeImageLayer, []byte("layer-"+seed))

	m, err := registry.NewOCIManifest(config, []ocispec.Descriptor{layer}, map[string]string{
		ocispec.AnnotationCreated: time.Now().UTC().Format(time.RFC3339),
	})
	require.NoError(tb, err)
	return m
}
