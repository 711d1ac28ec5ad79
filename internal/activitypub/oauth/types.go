package oauth

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

const (
	// https://datatracker.ietf.org/doc/html/rfc7636#section-4.3
	CodeChallengeMethod = "S256"

	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	ResponseTypeCode           = "code"

	// https://datatracker.ietf.org/doc/html/rfc6749#section-4.1.2.1
	OAuthAccessDeniedCode            = "access_denied"
	OAuthInvalidScopeCode            = "invalid_scope"
	OAuthServerErrorCode             = "server_error"
	OAuthInvalidRequestCode          = "invalid_request"
	OAuthUnauthorizedClientCode      = "unauthorized_client"
	OAuthTemporarilyUnavailableCode  = "temporarily_unavailable"
	OAuthUnsupportedResponseTypeCode = "unsupported_response_type"

	// https://datatracker.ietf.org/doc/html/rfc6749#section-5.2
	OAuthInvalidGrantCode = "invalid_grant"
)

const (
	MsgFailedParsing       = "failed to parse response"
	MsgFailedWebfinger     = "webfinger lookup failed"
	MsgFailedActorFetch    = "actor document fetch failed"
	MsgFailedTokensRequest = "OAuth tokens request failed"
)

// maxBodySize bounds every response body read from a remote server.
const maxBodySize = 1 << 20

// ActorEndpoints are the OAuth endpoints advertised by an actor document.
type ActorEndpoints struct {
	AuthorizationEndpoint string `json:"authorizationEndpoint"`
	TokenEndpoint         string `json:"tokenEndpoint"`
}

// Actor is the outcome of discovery.
type Actor struct {
	// ID is the actor document id.
	ID string
	// Handle is user@domain when known.
	Handle    string
	Endpoints ActorEndpoints
}

// TokenSet is replaced as a whole, never updated in place.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	// ExpiresAt is zero when the server did not send expires_in.
	ExpiresAt time.Time
}

func (t TokenSet) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

func (t TokenSet) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("access_token", strings.Repeat("x", len(t.AccessToken))),
		slog.String("refresh_token", strings.Repeat("x", len(t.RefreshToken))),
		slog.String("token_type", t.TokenType),
		slog.String("scope", t.Scope),
		slog.Time("expires_at", t.ExpiresAt))
}

// https://datatracker.ietf.org/doc/html/rfc6749#section-5.1
type accessTokenResponse struct {
	TokenType    string `json:"token_type"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

func (r accessTokenResponse) tokenSet(now time.Time) *TokenSet {
	t := &TokenSet{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		Scope:        r.Scope,
	}
	if r.ExpiresIn > 0 {
		t.ExpiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return t
}

// https://datatracker.ietf.org/doc/html/rfc6749#section-4.1.2.1
type ErrorResponse struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
	URI         string `json:"error_uri"`
}

func (e ErrorResponse) Error() string {
	if e.URI != "" {
		return fmt.Sprintf("code: %s, description: %s, uri: %s", e.Code, e.Description, e.URI)
	}
	return fmt.Sprintf("code: %s, description: %s", e.Code, e.Description)
}

// CallbackParams are the query parameters of the redirect back from the authorization server.
type CallbackParams struct {
	// the authorization code to use to request tokens (access & refresh)
	Code string
	// the state sent alongside the authorization request
	State string
	// set when the authorization server refused the request
	Error            string
	ErrorDescription string
	ErrorURI         string
	// issuer identifier, RFC 9207
	ISS string
}

// Present reports whether the callback carried any OAuth parameter.
func (p CallbackParams) Present() bool {
	return p.Code != "" || p.State != "" || p.Error != ""
}

func (p CallbackParams) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("iss", p.ISS),
		slog.String("code", strings.Repeat("x", len(p.Code))),
		slog.String("state", p.State),
		slog.String("error", p.Error))
}

func ToCallbackParams(v url.Values) CallbackParams {
	return CallbackParams{
		Code:             v.Get("code"),
		State:            v.Get("state"),
		Error:            v.Get("error"),
		ErrorDescription: v.Get("error_description"),
		ErrorURI:         v.Get("error_uri"),
		ISS:              v.Get("iss"),
	}
}
