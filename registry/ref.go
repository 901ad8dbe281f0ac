package registry

import (
	"fmt"

	"github.com/opencontainers/go-digest"
	"oras.land/oras-go/v2/registry"

	"github.com/meigma/acr/content"
	"github.com/meigma/acr/errdef"
)

// ref builds an ORAS reference on this client's host.
func (c *Client) ref(repo, reference string) registry.Reference {
	return registry.Reference{Registry: c.host, Repository: repo, Reference: reference}
}

// checkRepository validates a repository name.
func (c *Client) checkRepository(op, repo string) error {
	if err := c.ref(repo, "").ValidateRepository(); err != nil {
		return errdef.New(op, errdef.ErrInvalidReference, err)
	}
	return nil
}

// checkReference validates a repository and a tag or digest reference.
func (c *Client) checkReference(op, repo, reference string) error {
	if err := c.checkRepository(op, repo); err != nil {
		return err
	}
	if reference == "" {
		return errdef.New(op, errdef.ErrInvalidReference, fmt.Errorf("empty tag or digest for %s", repo))
	}
	if err := c.ref(repo, reference).ValidateReference(); err != nil {
		return errdef.New(op, errdef.ErrInvalidReference, err)
	}
	return nil
}

// checkTag validates a repository and a tag.
func (c *Client) checkTag(op, repo, tag string) error {
	if err := c.checkRepository(op, repo); err != nil {
		return err
	}
	if err := c.ref(repo, tag).ValidateReferenceAsTag(); err != nil {
		return errdef.New(op, errdef.ErrInvalidReference, err)
	}
	return nil
}

// checkDigest validates a repository and a digest reference.
func (c *Client) checkDigest(op, repo string, dgst digest.Digest) error {
	if err := c.checkRepository(op, repo); err != nil {
		return err
	}
	if _, err := content.ParseDigest(dgst.String()); err != nil {
		return errdef.New(op, errdef.ErrInvalidReference, fmt.Errorf("manifest reference must be a digest: %w", err))
	}
	return nil
}
