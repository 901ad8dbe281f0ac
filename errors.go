package acr

import "github.com/meigma/acr/errdef"

// Errors re-exported from errdef. Every error returned by a Client matches
// one of them with errors.Is.
var (
	// ErrAuth is returned when a credential is invalid, expired, or could not be refreshed.
	ErrAuth = errdef.ErrAuth

	// ErrNotFound is returned when a repository, tag or manifest does not exist.
	ErrNotFound = errdef.ErrNotFound

	// ErrPermission is returned when an operation is disallowed, including by
	// changeable attributes such as deleteEnabled=false.
	ErrPermission = errdef.ErrPermission

	// ErrConflict is returned when the registry reports a conflicting state.
	ErrConflict = errdef.ErrConflict

	// ErrRateLimited is returned when the registry throttles the client.
	ErrRateLimited = errdef.ErrRateLimited

	// ErrServer is returned for 5xx responses.
	ErrServer = errdef.ErrServer

	// ErrUnexpectedStatus is returned for any other non-2xx response.
	ErrUnexpectedStatus = errdef.ErrUnexpectedStatus

	// ErrCancelled is returned when the caller's context is cancelled.
	ErrCancelled = errdef.ErrCancelled

	// ErrTimeout is returned when the caller's deadline expires.
	ErrTimeout = errdef.ErrTimeout

	// ErrTransport is returned for network failures.
	ErrTransport = errdef.ErrTransport

	// ErrInvalidReference is returned when a login server, repository, tag
	// or digest is malformed.
	ErrInvalidReference = errdef.ErrInvalidReference

	// ErrDigestMismatch is returned when content does not match its expected digest.
	ErrDigestMismatch = errdef.ErrDigestMismatch

	// ErrUnsupportedMediaType is returned when a manifest arrives in a media
	// type the caller did not accept.
	ErrUnsupportedMediaType = errdef.ErrUnsupportedMediaType

	// ErrUnsupported is returned when the registry does not implement the requested API.
	ErrUnsupported = errdef.ErrUnsupported
)

// Error is the classified failure of a single operation.
type Error = errdef.Error
