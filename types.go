package acr

import (
	"github.com/meigma/acr/pager"
	"github.com/meigma/acr/registry"
)

// --- Re-exports from registry ---

// ChangeableAttributes are the policy flags of a repository, tag or manifest.
type ChangeableAttributes = registry.ChangeableAttributes

// AttributesPatch is a partial update of ChangeableAttributes.
type AttributesPatch = registry.AttributesPatch

// RepositoryAttributes describes a repository.
type RepositoryAttributes = registry.RepositoryAttributes

// TagAttributes describes a tag.
type TagAttributes = registry.TagAttributes

// ManifestAttributes describes a manifest.
type ManifestAttributes = registry.ManifestAttributes

// DeletedRepository lists what a repository delete removed.
type DeletedRepository = registry.DeletedRepository

// Manifest is a manifest payload with its media type.
type Manifest = registry.Manifest

// ListOptions controls a paginated listing.
type ListOptions = registry.ListOptions

// TagListOptions controls an ACR tag listing.
type TagListOptions = registry.TagListOptions

// ManifestListOptions controls an ACR manifest listing.
type ManifestListOptions = registry.ManifestListOptions

// Order selects the sort order of attribute listings.
type Order = registry.Order

// Listing orders.
const (
	OrderDefault  = registry.OrderDefault
	OrderTimeDesc = registry.OrderTimeDesc
	OrderTimeAsc  = registry.OrderTimeAsc
)

// Bool returns a pointer to v, for building an AttributesPatch.
func Bool(v bool) *bool {
	return registry.Bool(v)
}

// --- Re-exports from pager ---

// Policy controls how EachRepository handles per-repository failures.
type Policy = pager.Policy

// WalkStats summarizes an EachRepository traversal.
type WalkStats = pager.WalkStats
