package serviceerr

import "errors"

var ErrNotFound = errors.New("not found")
var ErrConflict = errors.New("already exists")

// Session Source failures. These are infrastructure errors and must never be
// treated as an anonymous request.
var ErrProviderUnavailable = errors.New("session source unavailable")
var ErrMisconfigured = errors.New("session source misconfigured")

// ErrAuthIndeterminate is returned by the verifier when it could not reach a
// decision. Callers must treat it as "not authenticated yet", not "anonymous".
var ErrAuthIndeterminate = errors.New("authentication indeterminate")

var ErrInvalidSession = errors.New("invalid session")
var ErrInvalidCredentials = errors.New("invalid credentials")
var ErrNoSession = errors.New("no session")
var ErrImmutableResponse = errors.New("response is immutable")
var ErrAlreadyStarted = errors.New("already started")
var ErrClosed = errors.New("closed")

// IsInfrastructure reports whether err means the Session Source could not be
// consulted, as opposed to a definite answer about the session.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrMisconfigured)
}
