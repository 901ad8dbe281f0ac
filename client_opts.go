package acr

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/meigma/acr/auth"
	"github.com/meigma/acr/registry"
	"github.com/meigma/acr/registry/cache"
)

// Option configures a Client.
type Option func(*Client) error

// setLogin records the login mode; only one may be configured.
func setLogin(c *Client, name string, login func(base string) (auth.Provider, error)) error {
	if c.login != nil {
		return errConflictingLogin
	}
	c.loginName, c.login = name, login
	return nil
}

// --- Authentication Options ---

// WithBasicAuth sends username and password as HTTP basic authentication
// on every request, e.g. with an admin user or a repository-scoped token.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) error {
		if username == "" {
			return errors.New("acr: basic auth requires a username")
		}
		return setLogin(c, "basic", func(string) (auth.Provider, error) {
			return auth.Basic(username, password), nil
		})
	}
}

// WithPasswordExchange trades username and password for short-lived
// bearer tokens at the registry's /oauth2/token endpoint.
func WithPasswordExchange(username, password string) Option {
	return func(c *Client) error {
		if username == "" {
			return errors.New("acr: password exchange requires a username")
		}
		return setLogin(c, "password exchange", func(base string) (auth.Provider, error) {
			return auth.NewExchange(base, auth.PasswordGrant(username, password), c.exchangeOptions()...)
		})
	}
}

// WithRefreshToken trades an ACR refresh token, such as the identity token
// stored by "az acr login", for access tokens.
func WithRefreshToken(refreshToken string) Option {
	return func(c *Client) error {
		if refreshToken == "" {
			return errors.New("acr: empty refresh token")
		}
		return setLogin(c, "refresh token", func(base string) (auth.Provider, error) {
			return auth.NewExchange(base, auth.RefreshTokenGrant(refreshToken), c.exchangeOptions()...)
		})
	}
}

// WithAADToken exchanges Azure AD access tokens from aad for registry
// tokens. aad is asked for a new AAD token whenever the registry refresh
// token has expired. tenant is optional.
func WithAADToken(tenant string, aad auth.Provider) Option {
	return func(c *Client) error {
		if aad == nil {
			return errors.New("acr: AAD login requires a token provider")
		}
		return setLogin(c, "aad", func(base string) (auth.Provider, error) {
			return auth.NewExchange(base, auth.AADGrant(tenant, aad), c.exchangeOptions()...)
		})
	}
}

// WithAzureCredential is WithAADToken for an Azure SDK credential, e.g.
// from azidentity.NewDefaultAzureCredential.
func WithAzureCredential(tenant string, cred azcore.TokenCredential) Option {
	return func(c *Client) error {
		if cred == nil {
			return errors.New("acr: nil Azure credential")
		}
		return setLogin(c, "aad", func(base string) (auth.Provider, error) {
			aad := auth.FromAzureCredential(cred, nil, auth.WithTokenLogger(c.logger))
			return auth.NewExchange(base, auth.AADGrant(tenant, aad), c.exchangeOptions()...)
		})
	}
}

// WithDockerConfig reads credentials for the registry from the Docker
// configuration (~/.docker/config.json and its credential helpers).
func WithDockerConfig() Option {
	return func(c *Client) error {
		return setLogin(c, "docker config", func(base string) (auth.Provider, error) {
			return auth.DockerConfig(base, c.exchangeOptions()...)
		})
	}
}

// WithCredentialProvider uses p to sign requests.
func WithCredentialProvider(p auth.Provider) Option {
	return func(c *Client) error {
		if p == nil {
			return errors.New("acr: nil credential provider")
		}
		return setLogin(c, "custom", func(string) (auth.Provider, error) {
			return p, nil
		})
	}
}

// WithAnonymous sends requests without credentials.
func WithAnonymous() Option {
	return func(c *Client) error {
		return setLogin(c, "anonymous", func(string) (auth.Provider, error) {
			return nil, nil
		})
	}
}

// --- Transport Options ---

// WithPlainHTTP uses plain HTTP (no TLS) when the login server has no
// scheme. This is useful for local development registries.
func WithPlainHTTP(enabled bool) Option {
	return func(c *Client) error {
		c.plainHTTP = enabled
		return nil
	}
}

// WithHTTPClient sets the HTTP client for registry and token requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("acr: nil HTTP client")
		}
		c.httpClient = hc
		return nil
	}
}

// WithUserAgent sets the User-Agent header for registry requests.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.regOpts = append(c.regOpts, registry.WithUserAgent(ua))
		return nil
	}
}

// --- Behavior Options ---

// WithLogger sets the logger for the client, its listings and its
// credential refreshes. If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithPageSize sets the default page size hint for listings.
func WithPageSize(n int) Option {
	return func(c *Client) error {
		if n < 0 {
			return errors.New("acr: page size must be non-negative")
		}
		c.regOpts = append(c.regOpts, registry.WithPageSize(n))
		return nil
	}
}

// WithMinPageBudget refuses to start a page fetch when less than d remains
// before the context deadline.
func WithMinPageBudget(d time.Duration) Option {
	return func(c *Client) error {
		if d < 0 {
			return errors.New("acr: page budget must be non-negative")
		}
		c.regOpts = append(c.regOpts, registry.WithMinPageBudget(d))
		return nil
	}
}

// WithLegacyAPI enables or disables the ACR attribute API (/acr/v1). It is
// enabled by default; disable it for registries that only implement the
// distribution API.
func WithLegacyAPI(enabled bool) Option {
	return func(c *Client) error {
		c.regOpts = append(c.regOpts, registry.WithLegacyAPI(enabled))
		return nil
	}
}

// --- Caching Options ---

// WithManifestCache caches manifests fetched or pushed by digest in memory,
// keeping at most maxEntries of them.
func WithManifestCache(maxEntries int) Option {
	return func(c *Client) error {
		if maxEntries <= 0 {
			return errors.New("acr: manifest cache size must be positive")
		}
		c.regOpts = append(c.regOpts, registry.WithManifestCache(cache.NewLRU(cache.WithMaxEntries(maxEntries))))
		return nil
	}
}
