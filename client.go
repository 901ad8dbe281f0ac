package acr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/meigma/acr/auth"
	"github.com/meigma/acr/pager"
	"github.com/meigma/acr/registry"
)

// Client talks to one Azure Container Registry.
//
// Client embeds a [registry.Client], so every attribute and distribution
// API operation is available directly on it.
type Client struct {
	*registry.Client

	provider auth.Provider

	// login builds the credential provider once all options are applied.
	login      func(base string) (auth.Provider, error)
	loginName  string
	plainHTTP  bool
	httpClient *http.Client
	logger     *slog.Logger
	regOpts    []registry.Option
}

// log returns the logger, falling back to a discard logger if nil.
func (c *Client) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// NewClient creates a client for the registry at loginServer, e.g.
// "myregistry.azurecr.io".
//
// Without a login option, requests are sent anonymously.
func NewClient(loginServer string, opts ...Option) (*Client, error) {
	c := &Client{}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	base := strings.TrimSpace(loginServer)
	if c.plainHTTP && base != "" && !strings.Contains(base, "://") {
		base = "http://" + base
	}

	if _, err := auth.ParseLoginServer(base); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}

	if c.login != nil {
		p, err := c.login(base)
		if err != nil {
			return nil, fmt.Errorf("%s login: %w", c.loginName, err)
		}
		c.provider = p
	}

	regOpts := []registry.Option{
		registry.WithCredentials(c.provider),
		registry.WithLogger(c.logger),
	}
	if c.httpClient != nil {
		regOpts = append(regOpts, registry.WithHTTPClient(c.httpClient))
	}
	rc, err := registry.New(base, append(regOpts, c.regOpts...)...)
	if err != nil {
		return nil, err
	}
	c.Client = rc

	c.log().Debug("created registry client", "host", rc.Host(), "login", c.loginMode())
	return c, nil
}

// Credentials returns the credential provider, or nil for anonymous access.
func (c *Client) Credentials() auth.Provider {
	return c.provider
}

func (c *Client) loginMode() string {
	if c.loginName == "" {
		return "anonymous"
	}
	return c.loginName
}

// exchangeOptions configures token exchanges to use the client's HTTP
// client and logger.
func (c *Client) exchangeOptions() []auth.ExchangeOption {
	opts := []auth.ExchangeOption{auth.WithTokenOptions(auth.WithTokenLogger(c.logger))}
	if c.httpClient != nil {
		opts = append(opts, auth.WithExchangeHTTPClient(c.httpClient))
	}
	return opts
}

// EachRepository calls fn for every repository of the registry.
//
// Repositories come from the ACR catalog, or the distribution catalog when
// the attribute API is disabled. Failures of fn are handled per policy:
// by default the first one stops the walk; with ContinueOnError they are
// logged and counted in the returned stats. Listing failures and
// cancellation always stop the walk.
func (c *Client) EachRepository(ctx context.Context, policy pager.Policy, fn func(ctx context.Context, repo string) error) (pager.WalkStats, error) {
	if policy.Logger == nil {
		policy.Logger = c.logger
	}
	p := c.Catalog(registry.ListOptions{})
	if c.LegacyAPI() {
		p = c.Repositories(registry.ListOptions{})
	}
	return pager.Walk(ctx, p.All(ctx), policy, fn)
}

// errConflictingLogin is returned when more than one login option is given.
var errConflictingLogin = errors.New("acr: more than one login option given")
