package acr_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/acr"
	"github.com/meigma/acr/auth"
	"github.com/meigma/acr/internal/registrytest"
	"github.com/meigma/acr/pager"
	"github.com/meigma/acr/registry"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, reg *registrytest.Registry, opts ...acr.Option) *acr.Client {
	t.Helper()
	opts = append([]acr.Option{acr.WithHTTPClient(reg.Client())}, opts...)
	c, err := acr.NewClient(reg.URL(), opts...)
	require.NoError(t, err)
	return c
}

func TestClient_PasswordExchangeEndToEnd(t *testing.T) {
	t.Parallel()

	reg := registrytest.New(t, registrytest.WithTokenAuth("user", "secret"))
	c := newTestClient(t, reg, acr.WithPasswordExchange("user", "secret"))
	ctx := context.Background()

	m := registry.NewTestManifest("a", testTime)
	dgst, err := c.PutManifest(ctx, "app", "v1", m)
	require.NoError(t, err)

	require.NoError(t, c.UpdateTagAttributes(ctx, "app", "v1", acr.AttributesPatch{DeleteEnabled: acr.Bool(false)}))
	err = c.DeleteTag(ctx, "app", "v1")
	require.ErrorIs(t, err, acr.ErrPermission)

	var e *acr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "registry.DeleteTag", e.Op)

	got, err := c.GetManifest(ctx, "app", dgst.String())
	require.NoError(t, err)
	assert.Equal(t, m.Content, got.Content)
	assert.Equal(t, 1, reg.TokensIssued(), "one token serves every request")
}

func TestClient_AADLogin(t *testing.T) {
	t.Parallel()

	reg := registrytest.New(t, registrytest.WithAADTokens("aad-token"))
	registrytest.SeedRepositories(reg, "app")

	aad := auth.ProviderFunc(func(context.Context) (auth.Credential, error) {
		return auth.Credential{Token: "aad-token"}, nil
	})
	viaAAD := newTestClient(t, reg, acr.WithAADToken("", aad))
	names, err := pager.Collect(viaAAD.Repositories(acr.ListOptions{}).All(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, []string{"app"}, names)
}

func TestClient_WrongPassword(t *testing.T) {
	t.Parallel()

	reg := registrytest.New(t, registrytest.WithTokenAuth("user", "secret"))
	c := newTestClient(t, reg, acr.WithPasswordExchange("user", "wrong"))

	err := c.CheckV2Support(context.Background())
	require.ErrorIs(t, err, acr.ErrAuth)
	assert.Zero(t, reg.CountRequests("", "/v2/"), "no request is sent without a token")
}

func TestClient_EachRepository(t *testing.T) {
	t.Parallel()

	reg := registrytest.New(t, registrytest.WithMaxPageSize(2))
	registrytest.SeedRepositories(reg, "a", "b", "c", "d", "e")
	ctx := context.Background()

	failOn := func(bad string) func(context.Context, string) error {
		return func(_ context.Context, repo string) error {
			if repo == bad {
				return fmt.Errorf("cannot process %s", repo)
			}
			return nil
		}
	}

	t.Run("stops on first failure", func(t *testing.T) {
		t.Parallel()

		c := newTestClient(t, reg)
		stats, err := c.EachRepository(ctx, acr.Policy{}, failOn("c"))
		require.Error(t, err)
		assert.Equal(t, 3, stats.Visited)
		assert.Equal(t, 1, stats.Failed)
	})

	t.Run("skips and logs failures", func(t *testing.T) {
		t.Parallel()

		var logs bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&logs, nil))
		c := newTestClient(t, reg, acr.WithLogger(logger))

		var seen []string
		stats, err := c.EachRepository(ctx, acr.Policy{ContinueOnError: true}, func(ctx context.Context, repo string) error {
			seen = append(seen, repo)
			return failOn("b")(ctx, repo)
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d", "e"}, seen)
		assert.Equal(t, 5, stats.Visited)
		assert.Equal(t, 1, stats.Failed)
		require.Error(t, stats.Err())
		assert.Contains(t, logs.String(), "skipping failed item")
	})

	t.Run("distribution catalog without attribute API", func(t *testing.T) {
		t.Parallel()

		c := newTestClient(t, reg, acr.WithLegacyAPI(false))
		var seen []string
		_, err := c.EachRepository(ctx, acr.Policy{}, func(_ context.Context, repo string) error {
			seen = append(seen, repo)
			return nil
		})
		require.NoError(t, err)
		assert.Len(t, seen, 5)
	})
}

func TestClient_DeleteLockedByAttributes(t *testing.T) {
	t.Parallel()

	reg := registrytest.New(t)
	registrytest.SeedRepositories(reg, "app")
	require.True(t, reg.SetRepositoryAttributes("app", registrytest.Attributes{ReadEnabled: true, ListEnabled: true, WriteEnabled: true}))
	c := newTestClient(t, reg)

	_, err := c.DeleteRepository(context.Background(), "app")
	require.True(t, errors.Is(err, acr.ErrPermission))
	assert.True(t, reg.HasRepository("app"))
	assert.Zero(t, reg.CountRequests(http.MethodDelete, ""))
}
