package oauth

import (
	"errors"

	"github.com/mickaelvieira/activitypub-oauth2-go-example/internal/activitypub/token"
)

var (
	// ErrEntropyUnavailable aborts a flow, it is never recovered from.
	ErrEntropyUnavailable = token.ErrEntropyUnavailable

	ErrActorNotFound    = errors.New("actor not found")
	ErrEndpointsMissing = errors.New("actor does not advertise OAuth endpoints")
	ErrNetwork          = errors.New("network error")

	ErrAuthorizationDenied      = errors.New("authorization denied")
	ErrStateMismatch            = errors.New("state mismatch")
	ErrMissingAuthorizationCode = errors.New("missing authorization code")
	ErrTokenExchangeFailed      = errors.New("token exchange failed")

	ErrNoCallbackParams = errors.New("no callback parameters")
	ErrFlowCompleted    = errors.New("authorization flow already completed")
)

// Message turns a flow error into a sentence that can be shown to the user.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEntropyUnavailable):
		return "A secure login could not be started on this server."
	case errors.Is(err, ErrActorNotFound):
		return "We could not find that ActivityPub actor. Check the address and try again."
	case errors.Is(err, ErrEndpointsMissing):
		return "That actor's server does not support OAuth login."
	case errors.Is(err, ErrNetwork):
		return "The actor's server could not be reached. Please try again."
	case errors.Is(err, ErrAuthorizationDenied):
		var e ErrorResponse
		if errors.As(err, &e) && e.Code != "" {
			return "Authorization failed: " + e.Code
		}
		return "Authorization failed."
	case errors.Is(err, ErrStateMismatch):
		return "Invalid state parameter. Please start the login again."
	case errors.Is(err, ErrMissingAuthorizationCode):
		return "The server did not return an authorization code."
	case errors.Is(err, ErrTokenExchangeFailed):
		return "Token exchange failed. Please try again."
	case errors.Is(err, ErrNoCallbackParams), errors.Is(err, ErrFlowCompleted):
		return "There is no login in progress."
	}
	return "Login failed."
}
