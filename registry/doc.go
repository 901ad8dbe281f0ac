// Package registry provides a client for Azure Container Registry and other
// registries implementing the OCI distribution API.
//
// The client covers two API families on the same host:
//
//   - the ACR attribute API under /acr/v1: repository, tag and manifest
//     listings with their changeable attributes, attribute updates and
//     deletes
//   - the distribution API under /v2: catalog and tag listings, manifest
//     get, put and delete
//
// Listings return a [pager.Pager] and are fetched lazily, page by page,
// following the registry's Link headers. Credentials come from an
// [auth.Provider]; a request rejected with 401 is retried once with a
// refreshed credential. Every failure is an [*errdef.Error] classified by
// one of the errdef sentinels.
//
// Basic usage:
//
//	c, err := registry.New("myregistry.azurecr.io",
//	    registry.WithCredentials(auth.Basic(user, pass)))
//	if err != nil {
//	    return err
//	}
//	for repo, err := range c.Repositories(registry.ListOptions{}).All(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(repo)
//	}
package registry
