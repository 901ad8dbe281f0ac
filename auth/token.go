package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/acr/errdef"
)

const (
	defaultRefreshTimeout = 30 * time.Second
	refreshKey            = "refresh"
)

// RefreshFunc obtains a new token credential.
type RefreshFunc func(ctx context.Context) (Credential, error)

// TokenProvider serves a bearer token and refreshes it when it is about to
// expire or after it has been invalidated.
//
// At most one refresh runs at a time. Callers that observe an expired token
// while a refresh is in flight wait for that refresh instead of starting
// their own.
type TokenProvider struct {
	refresh        RefreshFunc
	margin         time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger

	mu       sync.Mutex
	current  Credential
	issuedAt time.Time

	group     singleflight.Group
	refreshes atomic.Int64
}

// TokenOption configures a TokenProvider.
type TokenOption func(*TokenProvider)

// WithExpiryMargin sets how long before expiry a token is refreshed.
// Negative values are treated as zero.
func WithExpiryMargin(d time.Duration) TokenOption {
	return func(p *TokenProvider) {
		p.margin = max(d, 0)
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) TokenOption {
	return func(p *TokenProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithRefreshTimeout bounds a single refresh. The refresh does not inherit the
// cancellation of the caller that triggered it, since other callers may be
// waiting on it.
func WithRefreshTimeout(d time.Duration) TokenOption {
	return func(p *TokenProvider) {
		if d > 0 {
			p.refreshTimeout = d
		}
	}
}

// WithTokenLogger sets the logger for refresh events.
func WithTokenLogger(logger *slog.Logger) TokenOption {
	return func(p *TokenProvider) {
		p.logger = logger
	}
}

// NewTokenProvider creates a provider seeded with initial (which may be empty).
//
// refresh may be nil for a static token; once such a token expires,
// Credential fails with ErrAuth.
func NewTokenProvider(initial Credential, refresh RefreshFunc, opts ...TokenOption) *TokenProvider {
	p := &TokenProvider{
		refresh:        refresh,
		margin:         DefaultExpiryMargin,
		refreshTimeout: defaultRefreshTimeout,
		now:            time.Now,
		current:        initial,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.issuedAt = p.now()
	return p
}

// Static returns a provider for a fixed token that expires at expiresAt.
// A zero expiresAt never expires.
func Static(token string, expiresAt time.Time, opts ...TokenOption) *TokenProvider {
	return NewTokenProvider(Credential{Token: token, ExpiresAt: expiresAt}, nil, opts...)
}

func (p *TokenProvider) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// Credential returns the current token, refreshing it first if needed.
func (p *TokenProvider) Credential(ctx context.Context) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, contextError(opCredential, err)
	}
	if cred, ok := p.valid(); ok {
		return cred, nil
	}
	return p.refreshShared(ctx)
}

// Invalidate discards stale if it is still the current token.
func (p *TokenProvider) Invalidate(stale Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current.Token != "" && p.current.Token == stale.Token {
		p.log().Debug("invalidating rejected token")
		p.current = Credential{}
	}
}

// Refreshes returns how many refreshes have completed successfully.
func (p *TokenProvider) Refreshes() int64 {
	return p.refreshes.Load()
}

// valid returns the current token if it can be used right now.
func (p *TokenProvider) valid() (Credential, bool) {
	p.mu.Lock()
	cur, issued := p.current, p.issuedAt
	p.mu.Unlock()
	if cur.Token == "" || cur.Expired(p.now(), marginFor(p.margin, issued, cur.ExpiresAt)) {
		return Credential{}, false
	}
	return cur, true
}

// marginFor caps margin at half the lifetime of a token issued at issued, so
// short-lived tokens are still reused for a while.
func marginFor(margin time.Duration, issued, expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		return margin
	}
	if lifetime := expiresAt.Sub(issued); lifetime > 0 {
		return min(margin, lifetime/2)
	}
	return margin
}

func (p *TokenProvider) refreshShared(ctx context.Context) (Credential, error) {
	if p.refresh == nil {
		return Credential{}, authError(opCredential, 0, errNoRefresh)
	}

	ch := p.group.DoChan(refreshKey, func() (any, error) {
		// A refresh may have finished between the caller's check and now.
		if cred, ok := p.valid(); ok {
			return cred, nil
		}

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.refreshTimeout)
		defer cancel()

		p.log().Debug("refreshing token")
		cred, err := p.refresh(rctx)
		if err != nil {
			return Credential{}, err
		}
		if cred.Token == "" {
			return Credential{}, errors.New("refresh returned an empty token")
		}
		issued := p.now()
		if margin := marginFor(p.margin, issued, cred.ExpiresAt); cred.Expired(issued, margin) {
			p.log().Warn("refreshed token is already within its expiry margin",
				"expires_at", cred.ExpiresAt, "margin", margin)
		}

		p.mu.Lock()
		p.current = cred
		p.issuedAt = issued
		p.mu.Unlock()
		p.refreshes.Add(1)
		return cred, nil
	})

	select {
	case <-ctx.Done():
		return Credential{}, contextError(opCredential, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, errdef.ErrAuth) {
				return Credential{}, res.Err
			}
			return Credential{}, authError(opCredential, 0, res.Err)
		}
		return res.Val.(Credential), nil //nolint:errcheck // type is guaranteed by the refresh func
	}
}
