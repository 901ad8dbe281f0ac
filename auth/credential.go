package auth

import (
	"context"
	"encoding/base64"
	"time"
)

// DefaultExpiryMargin is how long before its expiry a token is treated as expired.
const DefaultExpiryMargin = time.Minute

// Credential is either a username/password pair or a bearer token with an expiry.
//
// A zero ExpiresAt means the token has no known expiry.
type Credential struct {
	Username string
	Password string

	Token     string
	ExpiresAt time.Time
}

// IsEmpty reports whether the credential carries no authentication material.
func (c Credential) IsEmpty() bool {
	return c.Token == "" && c.Username == "" && c.Password == ""
}

// IsBasic reports whether the credential is a username/password pair.
func (c Credential) IsBasic() bool {
	return c.Token == "" && (c.Username != "" || c.Password != "")
}

// Expired reports whether a token credential must be refreshed before use at now.
// Basic credentials and tokens without an expiry never expire.
func (c Credential) Expired(now time.Time, margin time.Duration) bool {
	if c.Token == "" || c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt.Add(-margin))
}

// AuthorizationHeader renders the Authorization header value, or "" for an
// empty credential.
func (c Credential) AuthorizationHeader() string {
	switch {
	case c.Token != "":
		return "Bearer " + c.Token
	case c.IsBasic():
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.Username+":"+c.Password))
	default:
		return ""
	}
}

// Provider produces the credential to sign the next request with.
//
// Implementations must be safe for concurrent use. Callers must not assume a
// previously returned credential is still valid and call Credential before
// every request.
type Provider interface {
	Credential(ctx context.Context) (Credential, error)
}

// Invalidator is implemented by providers that can discard a credential the
// registry rejected, so that the next Credential call refreshes it.
type Invalidator interface {
	// Invalidate discards stale if it is still the current credential.
	// Invalidating a credential that was already replaced is a no-op.
	Invalidate(stale Credential)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (Credential, error)

// Credential calls f(ctx).
func (f ProviderFunc) Credential(ctx context.Context) (Credential, error) {
	return f(ctx)
}

type fixedProvider struct {
	cred Credential
}

func (p fixedProvider) Credential(ctx context.Context) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, contextError(opCredential, err)
	}
	return p.cred, nil
}

// Basic returns a provider for a fixed username/password pair. It never expires.
func Basic(username, password string) Provider {
	return fixedProvider{cred: Credential{Username: username, Password: password}}
}

// Anonymous returns a provider that never attaches credentials.
func Anonymous() Provider {
	return fixedProvider{}
}
