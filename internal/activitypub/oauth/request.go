package oauth

import (
	"fmt"
	"net/url"
)

// AuthorizationRequest holds the parameters sent to the authorization endpoint.
// https://datatracker.ietf.org/doc/html/rfc6749#section-4.1.1
// https://datatracker.ietf.org/doc/html/rfc7636#section-4.3
type AuthorizationRequest struct {
	ClientID    string
	RedirectURI string
	Scope       string
	State       string
	Challenge   string
}

func (r AuthorizationRequest) values() url.Values {
	v := url.Values{}
	v.Set("client_id", r.ClientID)
	v.Set("redirect_uri", r.RedirectURI)
	v.Set("scope", r.Scope)
	v.Set("response_type", ResponseTypeCode)
	v.Set("state", r.State)
	v.Set("code_challenge", r.Challenge)
	v.Set("code_challenge_method", CodeChallengeMethod)
	return v
}

// BuildAuthorizationURL returns the URL the user agent must be redirected to.
// Query parameters already present on the endpoint are kept, those of the
// request take precedence.
func BuildAuthorizationURL(endpoint string, r AuthorizationRequest) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("invalid authorization endpoint: %q is not an absolute URL", endpoint)
	}

	q := u.Query()
	for k, v := range r.values() {
		q[k] = v
	}

	u.RawQuery = q.Encode()
	u.Fragment = ""

	return u.String(), nil
}
