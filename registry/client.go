package registry

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/meigma/acr/auth"
	"github.com/meigma/acr/errdef"
	"github.com/meigma/acr/pager"
	"github.com/meigma/acr/registry/cache"
)

const defaultUserAgent = "acr-go/1.0"

// Client talks to one registry host through both the ACR attribute API
// (/acr/v1) and the distribution API (/v2).
//
// A Client is safe for concurrent use. It holds no state besides the
// credential cache of its provider.
type Client struct {
	base       *url.URL
	host       string
	httpClient *http.Client
	provider   auth.Provider
	logger     *slog.Logger
	userAgent  string
	pageSize   int
	minBudget  time.Duration
	legacy     bool
	maxBytes   int64
	manifests  cache.Manifests
}

// log returns the logger, falling back to a discard logger if nil.
func (c *Client) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// New creates a client for the registry at baseURL, e.g.
// "https://myregistry.azurecr.io". A bare host is treated as https.
//
// Requests are unauthenticated unless WithCredentials is given. The ACR
// attribute API is enabled by default; disable it with WithLegacyAPI(false)
// for registries that only implement the distribution API.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := auth.ParseLoginServer(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdef.ErrInvalidReference, err)
	}

	c := &Client{
		base:      base,
		host:      base.Host,
		userAgent: defaultUserAgent,
		legacy:    true,
		maxBytes:  defaultMaxManifestBytes,
	}
	for _, opt := range opts {
		opt(c)
	}

	// Wrap the caller's client so timeouts, redirects and jars are kept.
	hc := &http.Client{}
	if c.httpClient != nil {
		*hc = *c.httpClient
	}
	hc.Transport = &auth.Transport{
		Base:     hc.Transport,
		Provider: c.provider,
		Header:   http.Header{"User-Agent": []string{c.userAgent}},
		Logger:   c.logger,
	}
	c.httpClient = hc

	return c, nil
}

// Host returns the registry host, e.g. "myregistry.azurecr.io".
func (c *Client) Host() string {
	return c.host
}

// LegacyAPI reports whether the ACR attribute API is enabled.
func (c *Client) LegacyAPI() bool {
	return c.legacy
}

// pagerOptions returns the options shared by every listing.
func (c *Client) pagerOptions() []pager.Option {
	return []pager.Option{
		pager.WithLogger(c.logger),
		pager.WithMinBudget(c.minBudget),
	}
}

// resolvePageSize picks the per-call page size, falling back to the client default.
func (c *Client) resolvePageSize(n int) int {
	if n > 0 {
		return n
	}
	return c.pageSize
}
