package registry

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/meigma/acr/auth"
	"github.com/meigma/acr/registry/cache"
)

// Option configures a Client.
type Option func(*Client)

// WithCredentials sets the credential provider used to sign requests.
func WithCredentials(p auth.Provider) Option {
	return func(c *Client) {
		c.provider = p
	}
}

// WithHTTPClient sets the underlying HTTP client. Its transport is wrapped
// with credential handling; the client itself is not modified.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger for client operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithUserAgent sets the User-Agent header for registry requests.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithPageSize sets the default page size hint for listings.
// Zero leaves the page size to the registry.
func WithPageSize(n int) Option {
	return func(c *Client) {
		c.pageSize = max(n, 0)
	}
}

// WithMinPageBudget refuses to start a page fetch when less than d remains
// before the context deadline.
func WithMinPageBudget(d time.Duration) Option {
	return func(c *Client) {
		c.minBudget = d
	}
}

// WithLegacyAPI enables or disables the ACR attribute API (/acr/v1).
//
// When disabled, attribute operations fail with ErrUnsupported and deletes
// skip the deleteEnabled check.
func WithLegacyAPI(enabled bool) Option {
	return func(c *Client) {
		c.legacy = enabled
	}
}

// WithMaxManifestBytes limits the size of fetched manifests.
func WithMaxManifestBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// WithManifestCache caches manifests fetched or pushed by digest. Tag
// references are always resolved by the registry.
func WithManifestCache(c cache.Manifests) Option {
	return func(cl *Client) {
		cl.manifests = c
	}
}
