package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/acr/errdef"
	"github.com/meigma/acr/pager"
)

const (
	opRepositories             = "registry.Repositories"
	opGetRepositoryAttributes  = "registry.GetRepositoryAttributes"
	opUpdateRepositoryAttrs    = "registry.UpdateRepositoryAttributes"
	opDeleteRepository         = "registry.DeleteRepository"
	opTags                     = "registry.Tags"
	opGetTagAttributes         = "registry.GetTagAttributes"
	opUpdateTagAttributes      = "registry.UpdateTagAttributes"
	opDeleteTag                = "registry.DeleteTag"
	opManifests                = "registry.Manifests"
	opGetManifestAttributes    = "registry.GetManifestAttributes"
	opUpdateManifestAttributes = "registry.UpdateManifestAttributes"
)

var errLegacyDisabled = errors.New("ACR attribute API is disabled for this client")

func (c *Client) requireLegacy(op string) error {
	if !c.legacy {
		return errdef.New(op, errdef.ErrUnsupported, errLegacyDisabled)
	}
	return nil
}

// acrPath returns /acr/v1/{repo}/{segments...}.
func (c *Client) acrPath(repo string, segments ...string) request {
	return request{url: c.endpoint(append([]string{"acr", "v1", repo}, segments...)...)}
}

// Repositories lists repository names through GET /acr/v1/_catalog.
func (c *Client) Repositories(opts ListOptions) *pager.Pager[string] {
	q := listQuery{N: c.resolvePageSize(opts.PageSize), Last: opts.Last}
	return listPager(c, opRepositories, c.endpoint("acr", "v1", "_catalog"), q,
		func(p *repositoryList) []string { return p.Repositories },
		c.requireLegacy(opRepositories))
}

// GetRepositoryAttributes returns the attributes of repo.
func (c *Client) GetRepositoryAttributes(ctx context.Context, repo string) (RepositoryAttributes, error) {
	const op = opGetRepositoryAttributes
	if err := c.requireLegacy(op); err != nil {
		return RepositoryAttributes{}, err
	}
	if err := c.checkRepository(op, repo); err != nil {
		return RepositoryAttributes{}, err
	}

	req := c.acrPath(repo)
	req.op, req.method, req.accept = op, http.MethodGet, "application/json"

	var out RepositoryAttributes
	if _, err := c.doJSON(ctx, req, &out); err != nil {
		return RepositoryAttributes{}, err
	}
	return out, nil
}

// UpdateRepositoryAttributes applies patch to the changeable attributes of
// repo. An empty patch returns nil without contacting the registry.
func (c *Client) UpdateRepositoryAttributes(ctx context.Context, repo string, patch AttributesPatch) error {
	const op = opUpdateRepositoryAttrs
	if err := c.requireLegacy(op); err != nil {
		return err
	}
	if err := c.checkRepository(op, repo); err != nil {
		return err
	}
	return c.patch(ctx, op, c.acrPath(repo), patch)
}

// DeleteRepository deletes repo with all its tags and manifests.
//
// The repository's attributes are read first; when deleting is disabled
// the call fails with ErrPermission and nothing is deleted.
func (c *Client) DeleteRepository(ctx context.Context, repo string) (DeletedRepository, error) {
	const op = opDeleteRepository
	if err := c.requireLegacy(op); err != nil {
		return DeletedRepository{}, err
	}
	if err := c.checkRepository(op, repo); err != nil {
		return DeletedRepository{}, err
	}

	attrs, err := c.GetRepositoryAttributes(ctx, repo)
	if err != nil {
		return DeletedRepository{}, relabel(op, err)
	}
	if err := deletable(op, repo, attrs.Attributes); err != nil {
		return DeletedRepository{}, err
	}

	req := c.acrPath(repo)
	req.op, req.method, req.accept = op, http.MethodDelete, "application/json"

	var out DeletedRepository
	if _, err := c.doJSON(ctx, req, &out); err != nil {
		return DeletedRepository{}, err
	}
	c.forget(repo, out.Manifests...)
	c.log().Info("deleted repository", "repository", repo, "manifests", len(out.Manifests), "tags", len(out.Tags))
	return out, nil
}

// Tags lists the tags of repo with their attributes through
// GET /acr/v1/{repo}/_tags.
func (c *Client) Tags(repo string, opts TagListOptions) *pager.Pager[TagAttributes] {
	err := c.requireLegacy(opTags)
	if err == nil {
		err = c.checkRepository(opTags, repo)
	}
	q := listQuery{
		N:       c.resolvePageSize(opts.PageSize),
		Last:    opts.Last,
		OrderBy: string(opts.OrderBy),
		Digest:  opts.Digest.String(),
	}
	return listPager(c, opTags, c.endpoint("acr", "v1", repo, "_tags"), q,
		func(p *tagAttributesList) []TagAttributes { return p.Tags },
		err)
}

// GetTagAttributes returns the attributes of repo:tag.
func (c *Client) GetTagAttributes(ctx context.Context, repo, tag string) (TagAttributes, error) {
	const op = opGetTagAttributes
	if err := c.requireLegacy(op); err != nil {
		return TagAttributes{}, err
	}
	if err := c.checkTag(op, repo, tag); err != nil {
		return TagAttributes{}, err
	}

	req := c.acrPath(repo, "_tags", tag)
	req.op, req.method, req.accept = op, http.MethodGet, "application/json"

	var out struct {
		Tag TagAttributes `json:"tag"`
	}
	if _, err := c.doJSON(ctx, req, &out); err != nil {
		return TagAttributes{}, err
	}
	return out.Tag, nil
}

// UpdateTagAttributes applies patch to the changeable attributes of
// repo:tag. An empty patch returns nil without contacting the registry.
func (c *Client) UpdateTagAttributes(ctx context.Context, repo, tag string, patch AttributesPatch) error {
	const op = opUpdateTagAttributes
	if err := c.requireLegacy(op); err != nil {
		return err
	}
	if err := c.checkTag(op, repo, tag); err != nil {
		return err
	}
	return c.patch(ctx, op, c.acrPath(repo, "_tags", tag), patch)
}

// DeleteTag deletes repo:tag. The manifest it points to is kept.
//
// The tag's attributes are read first; when deleting is disabled the call
// fails with ErrPermission and the tag is left in place.
func (c *Client) DeleteTag(ctx context.Context, repo, tag string) error {
	const op = opDeleteTag
	if err := c.requireLegacy(op); err != nil {
		return err
	}
	if err := c.checkTag(op, repo, tag); err != nil {
		return err
	}

	attrs, err := c.GetTagAttributes(ctx, repo, tag)
	if err != nil {
		return relabel(op, err)
	}
	if err := deletable(op, repo+":"+tag, attrs.Attributes); err != nil {
		return err
	}

	req := c.acrPath(repo, "_tags", tag)
	req.op, req.method = op, http.MethodDelete
	if _, err := c.doJSON(ctx, req, nil); err != nil {
		return err
	}
	c.log().Info("deleted tag", "repository", repo, "tag", tag)
	return nil
}

// Manifests lists the manifests of repo with their attributes through
// GET /acr/v1/{repo}/_manifests.
func (c *Client) Manifests(repo string, opts ManifestListOptions) *pager.Pager[ManifestAttributes] {
	err := c.requireLegacy(opManifests)
	if err == nil {
		err = c.checkRepository(opManifests, repo)
	}
	q := listQuery{
		N:       c.resolvePageSize(opts.PageSize),
		Last:    opts.Last,
		OrderBy: string(opts.OrderBy),
	}
	return listPager(c, opManifests, c.endpoint("acr", "v1", repo, "_manifests"), q,
		func(p *manifestAttributesList) []ManifestAttributes { return p.Manifests },
		err)
}

// GetManifestAttributes returns the attributes of the manifest dgst in repo.
func (c *Client) GetManifestAttributes(ctx context.Context, repo string, dgst digest.Digest) (ManifestAttributes, error) {
	const op = opGetManifestAttributes
	if err := c.requireLegacy(op); err != nil {
		return ManifestAttributes{}, err
	}
	if err := c.checkDigest(op, repo, dgst); err != nil {
		return ManifestAttributes{}, err
	}

	req := c.acrPath(repo, "_manifests", dgst.String())
	req.op, req.method, req.accept = op, http.MethodGet, "application/json"

	var out struct {
		Manifest ManifestAttributes `json:"manifest"`
	}
	if _, err := c.doJSON(ctx, req, &out); err != nil {
		return ManifestAttributes{}, err
	}
	return out.Manifest, nil
}

// UpdateManifestAttributes applies patch to the changeable attributes of the
// manifest dgst in repo. An empty patch returns nil without contacting the
// registry.
func (c *Client) UpdateManifestAttributes(ctx context.Context, repo string, dgst digest.Digest, patch AttributesPatch) error {
	const op = opUpdateManifestAttributes
	if err := c.requireLegacy(op); err != nil {
		return err
	}
	if err := c.checkDigest(op, repo, dgst); err != nil {
		return err
	}
	return c.patch(ctx, op, c.acrPath(repo, "_manifests", dgst.String()), patch)
}

// patch sends a changeable-attributes PATCH to req.url.
func (c *Client) patch(ctx context.Context, op string, req request, patch AttributesPatch) error {
	if patch.IsEmpty() {
		c.log().Debug("empty attributes patch, nothing to send", "op", op)
		return nil
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return errdef.New(op, errdef.ErrInvalidReference, fmt.Errorf("marshal attributes: %w", err))
	}
	req.op, req.method = op, http.MethodPatch
	req.body, req.contentType, req.accept = body, "application/json", "application/json"
	_, err = c.doJSON(ctx, req, nil)
	return err
}

// deletable fails with ErrPermission when attrs lock the item against deletion.
// ACR rejects deletes of items that are either delete- or write-disabled.
func deletable(op, item string, attrs ChangeableAttributes) error {
	switch {
	case !attrs.DeleteEnabled:
		return errdef.New(op, errdef.ErrPermission, fmt.Errorf("%s has deleteEnabled=false", item))
	case !attrs.WriteEnabled:
		return errdef.New(op, errdef.ErrPermission, fmt.Errorf("%s has writeEnabled=false", item))
	}
	return nil
}

// relabel reports err from a nested call under op, keeping kind and cause.
func relabel(op string, err error) error {
	var e *errdef.Error
	if errors.As(err, &e) {
		out := *e
		out.Op = op
		return &out
	}
	return err
}
