package auth

import (
	"errors"

	"github.com/meigma/acr/errdef"
)

const (
	opCredential = "auth.Credential"
	opExchange   = "auth.Exchange"
	opTransport  = "auth.Transport"
)

// errNoRefresh is the cause reported when an expired token has no refresh strategy.
var errNoRefresh = errors.New("token expired and no refresh strategy is configured")

// authError wraps cause as an ErrAuth failure of op.
func authError(op string, status int, cause error) error {
	return &errdef.Error{Op: op, StatusCode: status, Kind: errdef.ErrAuth, Err: cause}
}

// contextError reports a cancelled or timed-out credential fetch. The result
// matches both ErrAuth and ErrCancelled (or ErrTimeout).
func contextError(op string, ctxErr error) error {
	return authError(op, 0, errdef.FromContext(ctxErr))
}
