package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	orasauth "oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
)

// DockerConfig returns a provider reading credentials for loginServer from
// ~/.docker/config.json and any configured credential helpers.
func DockerConfig(loginServer string, opts ...ExchangeOption) (Provider, error) {
	store, err := credentials.NewStoreFromDocker(credentials.StoreOptions{})
	if err != nil {
		return nil, fmt.Errorf("auth: load docker config: %w", err)
	}
	return FromStore(store, loginServer, opts...)
}

// FromStore returns a provider reading credentials for loginServer from an
// ORAS credential store.
//
// Username/password entries are used as basic auth and access tokens as
// bearer tokens. Identity (refresh) tokens, as written by "az acr login",
// are exchanged for access tokens through an Exchange configured with opts.
func FromStore(store credentials.Store, loginServer string, opts ...ExchangeOption) (Provider, error) {
	base, err := ParseLoginServer(loginServer)
	if err != nil {
		return nil, err
	}
	return &storeProvider{
		store:       store,
		loginServer: base.String(),
		host:        base.Host,
		opts:        opts,
		now:         time.Now,
	}, nil
}

type storeProvider struct {
	store       credentials.Store
	loginServer string
	host        string
	opts        []ExchangeOption
	now         func() time.Time

	mu           sync.Mutex
	refreshToken string
	exchange     *Exchange
}

func (p *storeProvider) Credential(ctx context.Context) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, contextError(opCredential, err)
	}

	cred, err := p.store.Get(ctx, p.host)
	if err != nil {
		return Credential{}, authError(opCredential, 0, fmt.Errorf("credential store lookup for %s: %w", p.host, err))
	}

	switch {
	case cred == orasauth.EmptyCredential:
		return Credential{}, nil
	case cred.AccessToken != "":
		out := Credential{Token: cred.AccessToken}
		if exp, ok := ExpiryFromJWT(cred.AccessToken); ok {
			out.ExpiresAt = exp
		}
		if out.Expired(p.now(), 0) {
			return Credential{}, authError(opCredential, 0,
				fmt.Errorf("stored access token for %s expired at %s", p.host, out.ExpiresAt.Format(time.RFC3339)))
		}
		return out, nil
	case cred.RefreshToken != "":
		ex, err := p.exchangeFor(cred.RefreshToken)
		if err != nil {
			return Credential{}, authError(opCredential, 0, err)
		}
		return ex.Credential(ctx)
	default:
		return Credential{Username: cred.Username, Password: cred.Password}, nil
	}
}

// Invalidate forwards to the exchange serving identity tokens, if any.
func (p *storeProvider) Invalidate(stale Credential) {
	p.mu.Lock()
	ex := p.exchange
	p.mu.Unlock()
	if ex != nil {
		ex.Invalidate(stale)
	}
}

// exchangeFor returns the exchange for refreshToken, replacing the cached one
// when the stored identity token changed.
func (p *storeProvider) exchangeFor(refreshToken string) (*Exchange, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exchange != nil && p.refreshToken == refreshToken {
		return p.exchange, nil
	}
	ex, err := NewExchange(p.loginServer, RefreshTokenGrant(refreshToken), p.opts...)
	if err != nil {
		return nil, err
	}
	p.exchange = ex
	p.refreshToken = refreshToken
	return ex, nil
}
