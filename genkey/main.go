package main

import (
	"fmt"
	"os"

	"github.com/mickaelvieira/activitypub-oauth2-go-example/internal/activitypub/token"
	"github.com/potproject/atproto-oauth2-go-example/key"
)

// genkey prints the secrets of the web service in .env format.
func main() {
	// seals the tokens at rest
	secretJWK := key.GenerateSecretJWK()
	fmt.Printf("SECRET_JWK='%s'\n", secretJWK)

	// signs the session cookie
	sessionKey, err := token.RandomString(32)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("SESSION_KEY='%s'\n", sessionKey)
}
