package gtoken

import (
	"errors"

	"github.com/SanteonNL/orca/gtoken/transport"
)

// ErrMissingKey is returned by GetToken when no signing key is configured.
var ErrMissingKey = errors.New("no key set")

// ErrNoToken is returned by RevokeToken when there is no token to revoke.
var ErrNoToken = errors.New("no token to revoke")

// RemoteTokenError is returned when the token endpoint responds with an OAuth2 error.
type RemoteTokenError struct {
	Code        string
	Description string
	cause       error
}

func (e *RemoteTokenError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

func (e *RemoteTokenError) Unwrap() error {
	return e.cause
}

// normalizeTokenError turns a transport error carrying an OAuth2 error response into a RemoteTokenError.
// Any other error is returned as-is.
func normalizeTokenError(err error) error {
	var transportErr *transport.Error
	if !errors.As(err, &transportErr) {
		return err
	}
	code, _ := transportErr.Data["error"].(string)
	if code == "" {
		return err
	}
	description, _ := transportErr.Data["error_description"].(string)
	return &RemoteTokenError{
		Code:        code,
		Description: description,
		cause:       err,
	}
}
