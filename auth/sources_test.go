package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/meigma/acr/errdef"
)

// mockTokenCredential is a hand-written azcore.TokenCredential.
type mockTokenCredential struct {
	GetTokenFunc func(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error)
}

func (m *mockTokenCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return m.GetTokenFunc(ctx, opts)
}

func TestFromTokenSource(t *testing.T) {
	t.Parallel()

	expiry := time.Now().Add(time.Hour)
	p := FromTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "oauth-token", Expiry: expiry}))

	cred, err := p.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "oauth-token", cred.Token)
	assert.True(t, expiry.Equal(cred.ExpiresAt))
}

func TestFromTokenSource_Empty(t *testing.T) {
	t.Parallel()

	p := FromTokenSource(oauth2.StaticTokenSource(&oauth2.Token{}))
	_, err := p.Credential(context.Background())
	assert.ErrorIs(t, err, errdef.ErrAuth)
}

func TestFromAzureCredential(t *testing.T) {
	t.Parallel()

	var gotScopes []string
	expiry := time.Now().Add(time.Hour)
	mock := &mockTokenCredential{
		GetTokenFunc: func(_ context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
			gotScopes = opts.Scopes
			return azcore.AccessToken{Token: "aad", ExpiresOn: expiry}, nil
		},
	}

	cred, err := FromAzureCredential(mock, nil).Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "aad", cred.Token)
	assert.True(t, expiry.Equal(cred.ExpiresAt))
	assert.Equal(t, []string{DefaultAzureScope}, gotScopes)
}

func TestFromAzureCredential_Error(t *testing.T) {
	t.Parallel()

	boom := errors.New("no managed identity")
	mock := &mockTokenCredential{
		GetTokenFunc: func(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
			return azcore.AccessToken{}, boom
		},
	}

	_, err := FromAzureCredential(mock, []string{"custom/.default"}).Credential(context.Background())
	assert.ErrorIs(t, err, errdef.ErrAuth)
	assert.ErrorIs(t, err, boom)
}
