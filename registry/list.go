package registry

import (
	"context"
	"net/http"
	"net/url"

	"github.com/meigma/acr/errdef"
	"github.com/meigma/acr/pager"
)

// listPager returns a pager over a Link-paginated JSON listing.
//
// The first page is requested at first with q as query; later pages follow
// the registry's rel="next" links verbatim. extract pulls the items out of
// one decoded page. A non-nil setupErr is reported by the first fetch.
func listPager[R, T any](c *Client, op string, first *url.URL, q listQuery, extract func(*R) []T, setupErr error) *pager.Pager[T] {
	return pager.New(func(ctx context.Context, cursor string) (pager.Page[T], error) {
		if setupErr != nil {
			return pager.Page[T]{}, setupErr
		}

		u, err := c.cursorURL(op, cursor, first)
		if err != nil {
			return pager.Page[T]{}, err
		}
		req := request{op: op, method: http.MethodGet, url: u, accept: "application/json"}
		if cursor == "" {
			req.query = q
		}

		var page R
		resp, err := c.doJSON(ctx, req, &page)
		if err != nil {
			return pager.Page[T]{}, err
		}
		next, err := c.nextLink(resp)
		if err != nil {
			return pager.Page[T]{}, &errdef.Error{Op: op, StatusCode: resp.StatusCode, Kind: errdef.ErrUnexpectedStatus, Err: err}
		}
		return pager.Page[T]{Items: extract(&page), Next: next}, nil
	}, c.pagerOptions()...)
}

// repositoryList is the body of both catalog endpoints.
type repositoryList struct {
	Repositories []string `json:"repositories"`
}

// tagNameList is the body of GET /v2/{name}/tags/list.
type tagNameList struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// tagAttributesList is the body of GET /acr/v1/{name}/_tags.
type tagAttributesList struct {
	Registry  string          `json:"registry"`
	ImageName string          `json:"imageName"`
	Tags      []TagAttributes `json:"tags"`
}

// manifestAttributesList is the body of GET /acr/v1/{name}/_manifests.
type manifestAttributesList struct {
	Registry  string               `json:"registry"`
	ImageName string               `json:"imageName"`
	Manifests []ManifestAttributes `json:"manifests"`
}
