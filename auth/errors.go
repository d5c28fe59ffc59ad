package auth

import (
	"errors"
	"fmt"
)

// ErrReauthenticationRequired indicates the server rejected the refresh token
// as invalid or expired. The failed refresh request is never retried; the next
// attempt performs a full acquire instead. For the authorization code grant a
// full acquire means a new interactive authorization.
var ErrReauthenticationRequired = errors.New("reauthentication required")

// DecryptionError indicates the encrypted token state could not be read with
// the configured key. This is a severe invariant violation: the state is
// unusable and must be discarded and re-acquired. Never retried.
type DecryptionError struct {
	err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decrypting token state: %v", e.err)
}

func (e *DecryptionError) Unwrap() error {
	return e.err
}

// AuthorizationResponseError indicates an authorization callback that could
// not be accepted: unparseable URL, missing code or state, or a state value
// that does not match the pending one. Treated as a potential forged redirect
// and never retried; no token request is made from the offending input.
type AuthorizationResponseError struct {
	Reason string
}

func (e *AuthorizationResponseError) Error() string {
	return "invalid authorization response: " + e.Reason
}

// TokenEndpointError is a definitive rejection from the token endpoint,
// carrying the OAuth error code and description when the server provided
// them. Raw credentials are never included.
type TokenEndpointError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *TokenEndpointError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("token endpoint rejected request with status %d", e.StatusCode)
	}
	return fmt.Sprintf("token endpoint rejected request with status %d: %s (%s)",
		e.StatusCode, e.Code, e.Description)
}
