package oauth

import "github.com/mickaelvieira/activitypub-oauth2-go-example/internal/activitypub/token"

const (
	// 32 bytes gives a 43 characters verifier,
	// the minimum length of https://datatracker.ietf.org/doc/html/rfc7636#section-4.1
	VerifierBytes = 32
	StateBytes    = 16
)

type PKCE struct {
	Verifier  string
	Challenge string
	Method    string
}

// GenerateVerifier returns a PKCE code verifier carrying 256 bits of randomness.
func GenerateVerifier() (string, error) {
	return token.RandomString(VerifierBytes)
}

// DeriveChallenge returns the S256 challenge of verifier.
func DeriveChallenge(verifier string) string {
	return token.CodeChallenge(verifier)
}

// GenerateState returns an anti-CSRF value carrying 128 bits of randomness.
func GenerateState() (string, error) {
	return token.RandomString(StateBytes)
}

func newPKCE() (PKCE, error) {
	v, err := GenerateVerifier()
	if err != nil {
		return PKCE{}, err
	}

	return PKCE{
		Verifier:  v,
		Challenge: DeriveChallenge(v),
		Method:    CodeChallengeMethod,
	}, nil
}
