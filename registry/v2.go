package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/acr/content"
	"github.com/meigma/acr/errdef"
	"github.com/meigma/acr/pager"
	"github.com/meigma/acr/registry/cache"
)

const (
	opCheckV2Support = "registry.CheckV2Support"
	opCatalog        = "registry.Catalog"
	opTagList        = "registry.TagList"
	opGetManifest    = "registry.GetManifest"
	opPutManifest    = "registry.PutManifest"
	opDeleteManifest = "registry.DeleteManifest"

	headerContentDigest = "Docker-Content-Digest"
)

// CheckV2Support confirms that the registry implements the distribution
// API by probing GET /v2/. A 404 is reported as ErrUnsupported.
func (c *Client) CheckV2Support(ctx context.Context) error {
	_, err := c.doJSON(ctx, request{op: opCheckV2Support, method: http.MethodGet, url: c.endpoint("v2/")}, nil)
	var e *errdef.Error
	if errors.As(err, &e) && e.StatusCode == http.StatusNotFound {
		return &errdef.Error{Op: opCheckV2Support, StatusCode: e.StatusCode, Kind: errdef.ErrUnsupported, Err: e.Err}
	}
	return err
}

// Catalog lists repository names through GET /v2/_catalog.
func (c *Client) Catalog(opts ListOptions) *pager.Pager[string] {
	q := listQuery{N: c.resolvePageSize(opts.PageSize), Last: opts.Last}
	return listPager(c, opCatalog, c.endpoint("v2", "_catalog"), q,
		func(p *repositoryList) []string { return p.Repositories },
		nil)
}

// TagList lists the tag names of repo through GET /v2/{repo}/tags/list.
func (c *Client) TagList(repo string, opts ListOptions) *pager.Pager[string] {
	q := listQuery{N: c.resolvePageSize(opts.PageSize), Last: opts.Last}
	return listPager(c, opTagList, c.endpoint("v2", repo, "tags", "list"), q,
		func(p *tagNameList) []string { return p.Tags },
		c.checkRepository(opTagList, repo))
}

// GetManifest fetches the manifest repo:reference, where reference is a tag
// or a digest.
//
// The Accept header lists DefaultAccept (or the types given with
// WithAccept) and the response media type must be one of them. The content
// is verified against the requested digest, and against the
// Docker-Content-Digest header when the registry sends one.
func (c *Client) GetManifest(ctx context.Context, repo, reference string, opts ...ManifestOption) (Manifest, error) {
	const op = opGetManifest
	cfg := manifestConfig{accept: DefaultAccept}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := c.checkReference(op, repo, reference); err != nil {
		return Manifest{}, err
	}

	if c.manifests != nil && content.IsDigest(reference) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Manifest{}, contextError(op, ctxErr)
		}
		if e, ok := c.manifests.Get(repo, digest.Digest(reference)); ok && accepts(cfg.accept, e.MediaType) {
			c.log().Debug("manifest cache hit", "repository", repo, "digest", reference)
			return Manifest{MediaType: e.MediaType, Content: e.Content}, nil
		}
	}

	resp, err := c.do(ctx, request{
		op:     op,
		method: http.MethodGet,
		url:    c.endpoint("v2", repo, "manifests", reference),
		accept: acceptHeader(cfg.accept),
	})
	if err != nil {
		return Manifest{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Manifest{}, contextError(op, ctxErr)
		}
		return Manifest{}, &errdef.Error{Op: op, StatusCode: resp.StatusCode, Kind: errdef.ErrTransport, Err: err}
	}
	if int64(len(raw)) > c.maxBytes {
		return Manifest{}, &errdef.Error{
			Op:         op,
			StatusCode: resp.StatusCode,
			Kind:       errdef.ErrUnexpectedStatus,
			Err:        fmt.Errorf("manifest exceeds %d bytes", c.maxBytes),
		}
	}

	mediaType := baseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "" || mediaType == "application/json" || mediaType == "application/octet-stream" {
		if sniffed := sniffMediaType(raw); sniffed != "" {
			mediaType = sniffed
		}
	}
	if !accepts(cfg.accept, mediaType) {
		return Manifest{}, &errdef.Error{
			Op:         op,
			StatusCode: resp.StatusCode,
			Kind:       errdef.ErrUnsupportedMediaType,
			Err:        fmt.Errorf("registry returned %q, accepted %v", mediaType, cfg.accept),
		}
	}

	if content.IsDigest(reference) {
		if err := content.Verify(raw, digest.Digest(reference)); err != nil {
			return Manifest{}, &errdef.Error{Op: op, StatusCode: resp.StatusCode, Kind: errdef.ErrDigestMismatch, Err: err}
		}
	}
	if header := resp.Header.Get(headerContentDigest); header != "" {
		if err := content.Verify(raw, digest.Digest(header)); err != nil {
			return Manifest{}, &errdef.Error{Op: op, StatusCode: resp.StatusCode, Kind: errdef.ErrDigestMismatch, Err: fmt.Errorf("%s header: %w", headerContentDigest, err)}
		}
	}

	m := Manifest{MediaType: mediaType, Content: raw}
	c.remember(repo, m)
	return m, nil
}

// PutManifest uploads m as repo:reference and returns its digest.
//
// reference may be a tag or a digest. For a digest reference the digest of
// m.Content is checked locally first and a mismatch fails before any
// request is sent. A Docker-Content-Digest header in the response must
// match the local digest.
func (c *Client) PutManifest(ctx context.Context, repo, reference string, m Manifest) (digest.Digest, error) {
	const op = opPutManifest
	if err := c.checkReference(op, repo, reference); err != nil {
		return "", err
	}
	if m.MediaType == "" {
		return "", errdef.New(op, errdef.ErrUnsupportedMediaType, errors.New("manifest has no media type"))
	}
	if len(m.Content) == 0 {
		return "", errdef.New(op, errdef.ErrInvalidReference, errors.New("manifest has no content"))
	}

	local := m.Digest()
	if content.IsDigest(reference) {
		if err := content.Verify(m.Content, digest.Digest(reference)); err != nil {
			return "", errdef.New(op, errdef.ErrDigestMismatch, err)
		}
	}

	resp, err := c.do(ctx, request{
		op:          op,
		method:      http.MethodPut,
		url:         c.endpoint("v2", repo, "manifests", reference),
		body:        m.Content,
		contentType: m.MediaType,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes)) //nolint:errcheck // drain for connection reuse

	if header := resp.Header.Get(headerContentDigest); header != "" && digest.Digest(header) != local {
		return "", &errdef.Error{
			Op:         op,
			StatusCode: resp.StatusCode,
			Kind:       errdef.ErrDigestMismatch,
			Err:        fmt.Errorf("registry stored %s, sent %s", header, local),
		}
	}

	c.remember(repo, m)
	c.log().Info("pushed manifest", "repository", repo, "reference", reference, "digest", local)
	return local, nil
}

// DeleteManifest deletes the manifest dgst from repo together with the tags
// pointing at it.
//
// With the ACR attribute API enabled, the manifest's attributes are read
// first; when deleting is disabled the call fails with ErrPermission and
// the manifest is left in place.
func (c *Client) DeleteManifest(ctx context.Context, repo string, dgst digest.Digest) error {
	const op = opDeleteManifest
	if err := c.checkDigest(op, repo, dgst); err != nil {
		return err
	}

	if c.legacy {
		attrs, err := c.GetManifestAttributes(ctx, repo, dgst)
		if err != nil {
			return relabel(op, err)
		}
		if err := deletable(op, repo+"@"+dgst.String(), attrs.Attributes); err != nil {
			return err
		}
	}

	if _, err := c.doJSON(ctx, request{
		op:     op,
		method: http.MethodDelete,
		url:    c.endpoint("v2", repo, "manifests", dgst.String()),
	}, nil); err != nil {
		return err
	}
	c.forget(repo, dgst)
	c.log().Info("deleted manifest", "repository", repo, "digest", dgst)
	return nil
}

// remember stores m in the manifest cache, keyed by its content digest.
func (c *Client) remember(repo string, m Manifest) {
	if c.manifests != nil {
		c.manifests.Put(repo, m.Digest(), cache.Entry{MediaType: m.MediaType, Content: m.Content})
	}
}

func (c *Client) forget(repo string, digests ...digest.Digest) {
	if c.manifests == nil {
		return
	}
	for _, dgst := range digests {
		c.manifests.Delete(repo, dgst)
	}
}
