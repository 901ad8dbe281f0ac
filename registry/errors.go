package registry

import "github.com/meigma/acr/errdef"

// Sentinel errors for client operations. Every error returned by a Client
// matches one of them with errors.Is; see package errdef.
var (
	// ErrNotFound is returned when a repository, tag or manifest does not exist.
	ErrNotFound = errdef.ErrNotFound

	// ErrPermission is returned when the registry or a changeable attribute
	// forbids the operation.
	ErrPermission = errdef.ErrPermission

	// ErrInvalidReference is returned when a repository, tag or digest is malformed.
	ErrInvalidReference = errdef.ErrInvalidReference

	// ErrDigestMismatch is returned when content does not match its expected digest.
	ErrDigestMismatch = errdef.ErrDigestMismatch

	// ErrUnsupportedMediaType is returned when a manifest arrives in a media
	// type the caller did not accept.
	ErrUnsupportedMediaType = errdef.ErrUnsupportedMediaType

	// ErrUnsupported is returned when the registry or client configuration
	// does not provide the requested API.
	ErrUnsupported = errdef.ErrUnsupported
)
