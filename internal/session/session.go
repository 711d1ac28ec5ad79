package session

import (
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	CookieName = "activitypub-session"

	// FlowKey holds the id of the pending authorization.
	FlowKey = "flow"
	// ActorKey holds the id of the signed in actor.
	ActorKey = "actor"
)

// Init returns the cookie store signing the session cookie with key.
func Init(key string, secure bool) *sessions.CookieStore {
	s := sessions.NewCookieStore([]byte(key))
	s.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   secure,
		// the callback is a top level navigation coming from the authorization server
		SameSite: http.SameSiteLaxMode,
	}
	return s
}

func String(s *sessions.Session, key string) (string, bool) {
	v, ok := s.Values[key].(string)
	return v, ok && v != ""
}
