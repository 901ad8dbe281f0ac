package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/meigma/acr/errdef"
)

const (
	tokenPath    = "/oauth2/token"
	exchangePath = "/oauth2/exchange"

	// defaultTokenLifetime applies when the token endpoint reports no expiry
	// and the token carries no exp claim.
	defaultTokenLifetime = 5 * time.Minute

	// maxTokenResponseBytes bounds token endpoint responses.
	maxTokenResponseBytes = 1 << 20
)

// DefaultScopes grant catalog access plus full access to every repository.
var DefaultScopes = []string{"registry:catalog:*", "repository:*:*"}

// Grant identifies the caller to the registry token endpoint.
type Grant interface {
	// tokenForm returns the grant-specific form fields for POST /oauth2/token.
	tokenForm(ctx context.Context, e *Exchange) (url.Values, error)

	// reset drops derived state after the token endpoint rejected the grant.
	reset()
}

type passwordGrant struct {
	username string
	password string
}

// PasswordGrant exchanges a username and password for access tokens.
func PasswordGrant(username, password string) Grant {
	return passwordGrant{username: username, password: password}
}

func (passwordGrant) reset() {}

func (g passwordGrant) tokenForm(context.Context, *Exchange) (url.Values, error) {
	return url.Values{
		"grant_type": {"password"},
		"username":   {g.username},
		"password":   {g.password},
	}, nil
}

type refreshTokenGrant struct {
	token string
}

// RefreshTokenGrant exchanges a registry refresh token for access tokens.
func RefreshTokenGrant(token string) Grant {
	return refreshTokenGrant{token: token}
}

func (refreshTokenGrant) reset() {}

func (g refreshTokenGrant) tokenForm(context.Context, *Exchange) (url.Values, error) {
	return url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {g.token},
	}, nil
}

// aadGrant first trades an AAD access token for a registry refresh token at
// /oauth2/exchange, then uses the refresh token at /oauth2/token. The refresh
// token is reused until it expires or the token endpoint rejects it.
type aadGrant struct {
	tenant string
	aad    Provider

	mu           sync.Mutex
	refreshToken string
	issuedAt     time.Time
	expiresAt    time.Time
}

// AADGrant exchanges AAD access tokens from aad for registry tokens.
// tenant is optional.
func AADGrant(tenant string, aad Provider) Grant {
	return &aadGrant{tenant: tenant, aad: aad}
}

func (g *aadGrant) tokenForm(ctx context.Context, e *Exchange) (url.Values, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	stale := Credential{Token: g.refreshToken, ExpiresAt: g.expiresAt}
	if g.refreshToken == "" || stale.Expired(e.now(), marginFor(e.margin, g.issuedAt, g.expiresAt)) {
		aadCred, err := g.aad.Credential(ctx)
		if err != nil {
			return nil, err
		}
		if aadCred.Token == "" {
			return nil, errors.New("AAD provider returned no access token")
		}

		form := url.Values{
			"grant_type":   {"access_token"},
			"service":      {e.service},
			"access_token": {aadCred.Token},
		}
		if g.tenant != "" {
			form.Set("tenant", g.tenant)
		}

		var resp struct {
			RefreshToken string `json:"refresh_token"`
		}
		status, err := e.post(ctx, exchangePath, form, &resp)
		if err != nil {
			return nil, authError(opExchange, status, err)
		}
		if resp.RefreshToken == "" {
			return nil, authError(opExchange, status, errors.New("exchange response has no refresh_token"))
		}

		g.refreshToken = resp.RefreshToken
		g.issuedAt = e.now()
		g.expiresAt = e.expiry(resp.RefreshToken, 0)
		e.log().Debug("exchanged AAD token for refresh token", "expires_at", g.expiresAt)
	}

	return url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {g.refreshToken},
	}, nil
}

func (g *aadGrant) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refreshToken = ""
	g.expiresAt = time.Time{}
}

// Exchange is a Provider that obtains short-lived access tokens from the
// registry's OAuth2 token endpoint.
//
// Token caching, expiry and single-flight refresh are handled by the
// embedded TokenProvider.
type Exchange struct {
	*TokenProvider

	base     *url.URL
	service  string
	scopes   []string
	grant    Grant
	client   *http.Client
	now      func() time.Time
	margin   time.Duration
	logger   *slog.Logger
	tokenOps []TokenOption
}

// ExchangeOption configures an Exchange.
type ExchangeOption func(*Exchange)

// WithService sets the service parameter. It defaults to the login server host.
func WithService(service string) ExchangeOption {
	return func(e *Exchange) {
		e.service = service
	}
}

// WithScopes sets the requested scopes. It defaults to DefaultScopes.
func WithScopes(scopes ...string) ExchangeOption {
	return func(e *Exchange) {
		e.scopes = scopes
	}
}

// WithExchangeHTTPClient sets the HTTP client used to reach the token endpoint.
func WithExchangeHTTPClient(client *http.Client) ExchangeOption {
	return func(e *Exchange) {
		if client != nil {
			e.client = client
		}
	}
}

// WithTokenOptions passes options to the embedded TokenProvider.
func WithTokenOptions(opts ...TokenOption) ExchangeOption {
	return func(e *Exchange) {
		e.tokenOps = append(e.tokenOps, opts...)
	}
}

// NewExchange creates an OAuth2 exchange provider for the registry at
// loginServer (a host or URL; https is assumed when no scheme is given).
func NewExchange(loginServer string, grant Grant, opts ...ExchangeOption) (*Exchange, error) {
	if grant == nil {
		return nil, errors.New("auth: exchange requires a grant")
	}
	base, err := ParseLoginServer(loginServer)
	if err != nil {
		return nil, err
	}

	e := &Exchange{
		base:    base,
		service: base.Host,
		scopes:  DefaultScopes,
		grant:   grant,
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.TokenProvider = NewTokenProvider(Credential{}, e.fetchToken, e.tokenOps...)
	e.now = e.TokenProvider.now
	e.margin = e.TokenProvider.margin
	e.logger = e.TokenProvider.logger
	return e, nil
}

// ParseLoginServer turns "myregistry.azurecr.io" or "https://myregistry.azurecr.io"
// into a base URL with an empty path.
func ParseLoginServer(loginServer string) (*url.URL, error) {
	s := strings.TrimSpace(loginServer)
	if s == "" {
		return nil, errors.New("auth: empty login server")
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("auth: parse login server %q: %w", loginServer, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("auth: login server %q has no host", loginServer)
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func (e *Exchange) log() *slog.Logger {
	if e.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.logger
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Token       string `json:"token"`
	ExpiresIn   int    `json:"expires_in"`
}

// fetchToken is the refresh strategy of the embedded TokenProvider.
func (e *Exchange) fetchToken(ctx context.Context) (Credential, error) {
	form, err := e.grant.tokenForm(ctx, e)
	if err != nil {
		return Credential{}, err
	}
	form.Set("service", e.service)
	for _, scope := range e.scopes {
		form.Add("scope", scope)
	}

	var resp tokenResponse
	status, err := e.post(ctx, tokenPath, form, &resp)
	if err != nil {
		if status == http.StatusBadRequest || status == http.StatusUnauthorized {
			e.grant.reset()
		}
		return Credential{}, authError(opExchange, status, err)
	}

	token := resp.AccessToken
	if token == "" {
		token = resp.Token
	}
	if token == "" {
		return Credential{}, authError(opExchange, status, errors.New("token response has no access_token"))
	}

	cred := Credential{Token: token, ExpiresAt: e.expiry(token, resp.ExpiresIn)}
	e.log().Debug("obtained access token", "service", e.service, "expires_at", cred.ExpiresAt)
	return cred, nil
}

// expiry resolves a token's expiry from expires_in, then its exp claim,
// then the default lifetime.
func (e *Exchange) expiry(token string, expiresIn int) time.Time {
	if expiresIn > 0 {
		return e.now().Add(time.Duration(expiresIn) * time.Second)
	}
	if exp, ok := ExpiryFromJWT(token); ok {
		return exp
	}
	return e.now().Add(defaultTokenLifetime)
}

// post sends form to path and decodes a JSON response into out. It returns
// the HTTP status (zero when no response arrived).
func (e *Exchange) post(ctx context.Context, path string, form url.Values, out any) (int, error) {
	endpoint := e.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, errdef.FromContext(ctxErr)
		}
		return 0, fmt.Errorf("%w: %w", errdef.ErrTransport, err)
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, maxTokenResponseBytes)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(body) //nolint:errcheck // best-effort error detail
		return resp.StatusCode, fmt.Errorf("%s %s: %s: %s", req.Method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s response: %w", path, err)
	}
	return resp.StatusCode, nil
}
