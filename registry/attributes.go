package registry

import (
	"time"

	"github.com/opencontainers/go-digest"
)

// ChangeableAttributes are the policy flags of a repository, tag or manifest.
type ChangeableAttributes struct {
	DeleteEnabled bool `json:"deleteEnabled"`
	ListEnabled   bool `json:"listEnabled"`
	ReadEnabled   bool `json:"readEnabled"`
	WriteEnabled  bool `json:"writeEnabled"`
}

// AttributesPatch is a partial update of ChangeableAttributes. Nil fields
// keep their current value on the registry.
type AttributesPatch struct {
	DeleteEnabled *bool `json:"deleteEnabled,omitempty"`
	ListEnabled   *bool `json:"listEnabled,omitempty"`
	ReadEnabled   *bool `json:"readEnabled,omitempty"`
	WriteEnabled  *bool `json:"writeEnabled,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p AttributesPatch) IsEmpty() bool {
	return p.DeleteEnabled == nil && p.ListEnabled == nil && p.ReadEnabled == nil && p.WriteEnabled == nil
}

// Apply returns attrs with the fields set in p replaced.
func (p AttributesPatch) Apply(attrs ChangeableAttributes) ChangeableAttributes {
	if p.DeleteEnabled != nil {
		attrs.DeleteEnabled = *p.DeleteEnabled
	}
	if p.ListEnabled != nil {
		attrs.ListEnabled = *p.ListEnabled
	}
	if p.ReadEnabled != nil {
		attrs.ReadEnabled = *p.ReadEnabled
	}
	if p.WriteEnabled != nil {
		attrs.WriteEnabled = *p.WriteEnabled
	}
	return attrs
}

// Bool returns a pointer to v, for building an AttributesPatch.
func Bool(v bool) *bool {
	return &v
}

// RepositoryAttributes describes a repository.
type RepositoryAttributes struct {
	Registry      string               `json:"registry"`
	Name          string               `json:"imageName"`
	CreatedOn     time.Time            `json:"createdTime"`
	LastUpdatedOn time.Time            `json:"lastUpdateTime"`
	ManifestCount int                  `json:"manifestCount"`
	TagCount      int                  `json:"tagCount"`
	Attributes    ChangeableAttributes `json:"changeableAttributes"`
}

// TagAttributes describes a tag.
type TagAttributes struct {
	Name          string               `json:"name"`
	Digest        digest.Digest        `json:"digest"`
	CreatedOn     time.Time            `json:"createdTime"`
	LastUpdatedOn time.Time            `json:"lastUpdateTime"`
	Signed        bool                 `json:"signed"`
	Attributes    ChangeableAttributes `json:"changeableAttributes"`
}

// ManifestAttributes describes a manifest.
type ManifestAttributes struct {
	Digest          digest.Digest        `json:"digest"`
	Size            int64                `json:"imageSize"`
	CreatedOn       time.Time            `json:"createdTime"`
	LastUpdatedOn   time.Time            `json:"lastUpdateTime"`
	Architecture    string               `json:"architecture,omitempty"`
	OS              string               `json:"os,omitempty"`
	MediaType       string               `json:"mediaType,omitempty"`
	ConfigMediaType string               `json:"configMediaType,omitempty"`
	Tags            []string             `json:"tags,omitempty"`
	Attributes      ChangeableAttributes `json:"changeableAttributes"`
}

// DeletedRepository lists what a repository delete removed.
type DeletedRepository struct {
	Manifests []digest.Digest `json:"manifestsDeleted"`
	Tags      []string        `json:"tagsDeleted"`
}

// Order selects the sort order of attribute listings.
type Order string

// Listing orders understood by the ACR attribute API.
const (
	OrderDefault  Order = ""
	OrderTimeDesc Order = "timedesc"
	OrderTimeAsc  Order = "timeasc"
)

// ListOptions controls a paginated listing.
type ListOptions struct {
	// PageSize is a hint for the number of items per page. The registry may
	// return fewer. Zero uses the client default.
	PageSize int

	// Last starts the listing after the named item.
	Last string
}

// TagListOptions controls an ACR tag listing.
type TagListOptions struct {
	ListOptions

	OrderBy Order

	// Digest restricts the listing to tags of one manifest.
	Digest digest.Digest
}

// ManifestListOptions controls an ACR manifest listing.
type ManifestListOptions struct {
	ListOptions

	OrderBy Order
}

// listQuery is the query string shared by every listing endpoint.
type listQuery struct {
	N       int    `url:"n,omitempty"`
	Last    string `url:"last,omitempty"`
	OrderBy string `url:"orderby,omitempty"`
	Digest  string `url:"digest,omitempty"`
}
