package auth

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"golang.org/x/oauth2"
)

// DefaultAzureScope is the AAD scope for Azure Container Registry data-plane tokens.
const DefaultAzureScope = "https://containerregistry.azure.net/.default"

// FromTokenSource returns a provider backed by an OAuth2 token source.
//
// The token source is consulted only when the cached token is expired or
// was rejected by the registry.
func FromTokenSource(ts oauth2.TokenSource, opts ...TokenOption) *TokenProvider {
	return NewTokenProvider(Credential{}, func(ctx context.Context) (Credential, error) {
		if err := ctx.Err(); err != nil {
			return Credential{}, err
		}
		tok, err := ts.Token()
		if err != nil {
			return Credential{}, err
		}
		if tok.AccessToken == "" {
			return Credential{}, errors.New("token source returned an empty access token")
		}
		return Credential{Token: tok.AccessToken, ExpiresAt: tok.Expiry}, nil
	}, opts...)
}

// FromAzureCredential returns a provider for AAD access tokens issued by an
// Azure SDK credential (for example azidentity.DefaultAzureCredential).
// When scopes is empty, DefaultAzureScope is requested.
//
// The resulting tokens are AAD tokens; wrap the provider in AADGrant to trade
// them for registry tokens.
func FromAzureCredential(cred azcore.TokenCredential, scopes []string, opts ...TokenOption) *TokenProvider {
	if len(scopes) == 0 {
		scopes = []string{DefaultAzureScope}
	}
	return NewTokenProvider(Credential{}, func(ctx context.Context) (Credential, error) {
		tok, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: scopes})
		if err != nil {
			return Credential{}, err
		}
		return Credential{Token: tok.Token, ExpiresAt: tok.ExpiresOn}, nil
	}, opts...)
}
