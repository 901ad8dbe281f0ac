// Package auth provides credential providers for registry requests.
//
// A [Provider] returns the credential to sign the next request with. The
// package ships several strategies:
//   - [Basic]: fixed username and password
//   - [Static] and [NewTokenProvider]: bearer tokens with an expiry and an
//     optional refresh callback
//   - [NewExchange]: OAuth2 exchange against the registry token endpoint,
//     with [PasswordGrant], [RefreshTokenGrant] or [AADGrant]
//   - [FromTokenSource], [FromAzureCredential]: tokens from golang.org/x/oauth2
//     or the Azure SDK
//   - [FromStore], [DockerConfig]: credentials from an ORAS credential store
//
// [Transport] attaches credentials to outgoing requests and performs the
// single refresh-and-retry after a 401.
package auth
