// Package errdef defines the error kinds shared by the registry client,
// credential providers and pagers.
//
// Every failure surfaced by this module is either one of the sentinel
// errors below or an [*Error] whose Kind is one of them, so callers can
// branch with [errors.Is]:
//
//	if errors.Is(err, errdef.ErrNotFound) {
//	    // repository, tag or manifest is absent
//	}
package errdef

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Sentinel error kinds.
var (
	// ErrAuth is returned when a credential is invalid, expired, or could not be refreshed.
	ErrAuth = errors.New("acr: authentication failed")

	// ErrNotFound is returned when a repository, tag or manifest does not exist.
	ErrNotFound = errors.New("acr: not found")

	// ErrPermission is returned when an operation is disallowed, including by
	// changeable attributes such as deleteEnabled=false.
	ErrPermission = errors.New("acr: operation not permitted")

	// ErrConflict is returned when the registry reports a conflicting state.
	ErrConflict = errors.New("acr: conflict")

	// ErrRateLimited is returned when the registry throttles the client.
	ErrRateLimited = errors.New("acr: rate limited")

	// ErrServer is returned for 5xx responses.
	ErrServer = errors.New("acr: server error")

	// ErrUnexpectedStatus is returned for any other non-2xx response.
	ErrUnexpectedStatus = errors.New("acr: unexpected status")

	// ErrCancelled is returned when the caller's context is cancelled.
	ErrCancelled = errors.New("acr: cancelled")

	// ErrTimeout is returned when the caller's deadline expires or no time budget is left.
	ErrTimeout = errors.New("acr: timeout")

	// ErrTransport is returned for network failures that produced no HTTP response.
	ErrTransport = errors.New("acr: transport failure")

	// ErrInvalidReference is returned when a repository name, tag or digest is malformed.
	ErrInvalidReference = errors.New("acr: invalid reference")

	// ErrDigestMismatch is returned when content does not match its expected digest.
	ErrDigestMismatch = errors.New("acr: digest mismatch")

	// ErrUnsupportedMediaType is returned when a manifest arrives in a media
	// type the caller did not accept.
	ErrUnsupportedMediaType = errors.New("acr: unsupported media type")

	// ErrUnsupported is returned when the endpoint does not implement the requested API.
	ErrUnsupported = errors.New("acr: unsupported")
)

// Error is a classified failure of a single operation.
//
// Kind is one of the sentinel errors of this package. Err, when set, is the
// underlying cause (an ORAS error response, a net/http error, a context error).
// Both are reachable through [errors.Is] and [errors.As].
type Error struct {
	// Op names the operation, e.g. "registry.DeleteTag".
	Op string

	// StatusCode is the HTTP status, or zero when no response was received.
	StatusCode int

	// RetryAfter is the server-requested delay for rate-limited responses.
	RetryAfter time.Duration

	Kind error
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("error")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns both the kind and the cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// New returns an Error for op with the given kind and cause.
func New(op string, kind, cause error) *Error {
	return &Error{Op: op, Kind: kind, Err: cause}
}

// FromStatus classifies an HTTP status code into an error kind.
// It returns nil for 2xx statuses.
func FromStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return ErrAuth
	case status == http.StatusForbidden, status == http.StatusMethodNotAllowed:
		return ErrPermission
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusConflict:
		return ErrConflict
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= 500:
		return ErrServer
	default:
		return ErrUnexpectedStatus
	}
}

// FromContext maps a context error to ErrCancelled or ErrTimeout.
// Other errors (including nil) are returned unchanged.
func FromContext(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	default:
		return err
	}
}

// Kind reports the sentinel kind of err, or nil when err carries none.
func Kind(err error) error {
	var e *Error
	if errors.As(err, &e) && e.Kind != nil {
		return e.Kind
	}
	for _, k := range []error{
		ErrAuth, ErrNotFound, ErrPermission, ErrConflict, ErrRateLimited,
		ErrServer, ErrUnexpectedStatus, ErrCancelled, ErrTimeout, ErrTransport,
		ErrInvalidReference, ErrDigestMismatch, ErrUnsupportedMediaType, ErrUnsupported,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
