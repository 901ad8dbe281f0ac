// Package acr provides a client for Azure Container Registry.
//
// The [Client] combines the ACR attribute API (/acr/v1) with the OCI
// distribution API (/v2) on one login server and takes care of
// authentication: basic credentials, OAuth2 token exchange with a password,
// a refresh token or an Azure AD token, or the local Docker configuration.
// Tokens are cached, refreshed shortly before they expire, and refreshed
// once more when the registry rejects them.
//
// # Quick Start
//
// List repositories and their tags:
//
//	c, err := acr.NewClient("myregistry.azurecr.io",
//	    acr.WithPasswordExchange(user, pass),
//	)
//	if err != nil {
//	    return err
//	}
//	for repo, err := range c.Repositories(acr.ListOptions{}).All(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(repo)
//	}
//
// Lock a tag against deletion:
//
//	err = c.UpdateTagAttributes(ctx, "app", "v1", acr.AttributesPatch{
//	    DeleteEnabled: acr.Bool(false),
//	})
//
// # Listings
//
// Listings return a pager that fetches pages lazily. Iterate with All, or
// fetch single pages with Page to keep a resumable cursor. A cancelled
// context stops the listing at the next page boundary; items already
// received stay valid.
//
// # Errors
//
// Every failure matches one of the sentinel errors of this package with
// [errors.Is], e.g. [ErrNotFound] or [ErrPermission]. [errors.As] with an
// [*Error] gives the operation, HTTP status and Retry-After delay.
//
// # Configuration
//
// The config subpackage loads the login server and credentials from a YAML
// file and ACR_* environment variables.
package acr
