package registry_test

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/acr/auth"
	"github.com/meigma/acr/errdef"
	"github.com/meigma/acr/internal/registrytest"
	"github.com/meigma/acr/pager"
	"github.com/meigma/acr/registry"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// stepClock advances one second on every reading, so items pushed in
// sequence get distinct timestamps.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newClient(t *testing.T, reg *registrytest.Registry, opts ...registry.Option) *registry.Client {
	t.Helper()
	opts = append([]registry.Option{registry.WithHTTPClient(reg.Client())}, opts...)
	c, err := registry.New(reg.URL(), opts...)
	require.NoError(t, err)
	return c
}

// pushTestManifest pushes a distinct manifest for seed and tags it when tag
// is non-empty.
func pushTestManifest(reg *registrytest.Registry, repo, tag, seed string) (registry.Manifest, digest.Digest) {
	m := registry.NewTestManifest(seed, testTime)
	return m, reg.PushManifest(repo, tag, m.MediaType, m.Content)
}

func seedRepositories(reg *registrytest.Registry, n int) []string {
	names := make([]string, n)
	for i := range n {
		names[i] = fmt.Sprintf("repo-%02d", i)
		pushTestManifest(reg, names[i], "latest", names[i])
	}
	return names
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		baseURL  string
		wantHost string
		wantErr  error
	}{
		{name: "bare host", baseURL: "myregistry.azurecr.io", wantHost: "myregistry.azurecr.io"},
		{name: "https url", baseURL: "https://myregistry.azurecr.io/", wantHost: "myregistry.azurecr.io"},
		{name: "host with port", baseURL: "http://localhost:5000", wantHost: "localhost:5000"},
		{name: "empty", baseURL: "", wantErr: errdef.ErrInvalidReference},
		{name: "no host", baseURL: "https://", wantErr: errdef.ErrInvalidReference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := registry.New(tt.baseURL)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, c.Host())
			assert.True(t, c.LegacyAPI())
		})
	}
}

func TestNew_DoesNotModifyHTTPClient(t *testing.T) {
	t.Parallel()

	hc := &http.Client{Timeout: 5 * time.Second}
	_, err := registry.New("myregistry.azurecr.io", registry.WithHTTPClient(hc))
	require.NoError(t, err)
	assert.Nil(t, hc.Transport)
}

func TestClient_CheckV2Support(t *testing.T) {
	t.Parallel()

	reg := registrytest.New(t)
	require.NoError(t, newClient(t, reg).CheckV2Support(context.Background()))
}

func TestClient_Authentication(t *testing.T) {
	t.Parallel()

	t.Run("basic", func(t *testing.T) {
		t.Parallel()

		reg := registrytest.New(t, registrytest.WithBasicAuth("user", "secret"))
		seedRepositories(reg, 2)

		c := newClient(t, reg, registry.WithCredentials(auth.Basic("user", "secret")))
		names, err := pager.Collect(c.Catalog(registry.ListOptions{}).All(context.Background()))
		require.NoError(t, err)
		assert.Len(t, names, 2)
	})

	t.Run("wrong password", func(t *testing.T) {
		t.Parallel()

		reg := registrytest.New(t, registrytest.WithBasicAuth("user", "secret"))
		c := newClient(t, reg, registry.WithCredentials(auth.Basic("user", "nope")))

		err := c.CheckV2Support(context.Background())
		require.ErrorIs(t, err, errdef.ErrAuth)
		assert.Equal(t, 1, reg.CountRequests(http.MethodGet, "/v2/"), "basic credentials are not retried")
	})

	t.Run("anonymous against protected registry", func(t *testing.T) {
		t.Parallel()

		reg := registrytest.New(t, registrytest.WithTokenAuth("user", "secret"))
		err := newClient(t, reg).CheckV2Support(context.Background())
		require.ErrorIs(t, err, errdef.ErrAuth)
	})
}

func TestClient_TokenRevokedMidListing(t *testing.T) {
	t.Parallel()

	reg := registrytest.New(t,
		registrytest.WithTokenAuth("user", "secret"),
		registrytest.WithMaxPageSize(2),
	)
	names := seedRepositories(reg, 6)

	exchange, err := auth.NewExchange(reg.URL(), auth.PasswordGrant("user", "secret"),
		auth.WithExchangeHTTPClient(reg.Client()))
	require.NoError(t, err)
	c := newClient(t, reg, registry.WithCredentials(exchange))

	ctx := context.Background()
	p := c.Catalog(registry.ListOptions{})

	var got []string
	cursor := ""
	for page := 0; page < 3; page++ {
		if page == 1 {
			reg.RevokeTokens()
		}
		pg, err := p.Page(ctx, cursor)
		require.NoError(t, err, "page %d", page)
		got = append(got, pg.Items...)
		cursor = pg.Next
	}

	assert.Equal(t, names, got)
	assert.Empty(t, cursor)
	assert.Equal(t, 2, reg.TokensIssued(), "exactly one refresh after revocation")
	assert.Equal(t, 4, reg.CountRequests(http.MethodGet, "/v2/_catalog"), "one rejected request is retried")
}

func TestClient_AADExchange(t *testing.T) {
	t.Parallel()

	reg := registrytest.New(t, registrytest.WithAADTokens("aad-token"))
	seedRepositories(reg, 1)

	aad := auth.ProviderFunc(func(context.Context) (auth.Credential, error) {
		return auth.Credential{Token: "aad-token", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})
	exchange, err := auth.NewExchange(reg.URL(), auth.AADGrant("tenant", aad),
		auth.WithExchangeHTTPClient(reg.Client()))
	require.NoError(t, err)

	c := newClient(t, reg, registry.WithCredentials(exchange))
	names, err := pager.Collect(c.Repositories(registry.ListOptions{}).All(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, []string{"repo-00"}, names)
}

func TestClient_ListingCancelledMidway(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	reg := registrytest.New(t,
		registrytest.WithMaxPageSize(2),
		registrytest.WithMiddleware(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if req.URL.Query().Get("last") != "" {
					once.Do(cancel)
				}
				next.ServeHTTP(w, req)
			})
		}),
	)
	names := seedRepositories(reg, 10)

	c := newClient(t, reg)
	got, err := pager.Collect(c.Catalog(registry.ListOptions{}).All(ctx))

	require.ErrorIs(t, err, errdef.ErrCancelled)
	assert.Equal(t, names[:2], got, "only the first page is delivered")
	assert.Equal(t, 2, reg.CountRequests(http.MethodGet, "/v2/_catalog"), "no page after the cancelled one is requested")
}

func TestClient_MinPageBudget(t *testing.T) {
	t.Parallel()

	reg := registrytest.New(t)
	seedRepositories(reg, 1)
	c := newClient(t, reg, registry.WithMinPageBudget(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := pager.Collect(c.Catalog(registry.ListOptions{}).All(ctx))
	require.ErrorIs(t, err, errdef.ErrTimeout)
	assert.Zero(t, reg.CountRequests("", "/v2/"))
}
