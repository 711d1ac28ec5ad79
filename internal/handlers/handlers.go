package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/mickaelvieira/activitypub-oauth2-go-example/internal/activitypub"
	"github.com/mickaelvieira/activitypub-oauth2-go-example/internal/activitypub/actor"
	"github.com/mickaelvieira/activitypub-oauth2-go-example/internal/activitypub/oauth"
	"github.com/mickaelvieira/activitypub-oauth2-go-example/internal/database"
	"github.com/mickaelvieira/activitypub-oauth2-go-example/internal/session"
)

type contextKey struct{}

var userKey contextKey

func New(s *sessions.CookieStore, st *database.Storage, os oauth.Service, client *http.Client, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		Session: s,
		Storage: st,
		OAuth:   os,
		HTTP:    client,
		Logger:  logger,
	}
}

type Handlers struct {
	Storage *database.Storage
	Session *sessions.CookieStore
	OAuth   oauth.Service
	HTTP    *http.Client
	Logger  *slog.Logger
}

func (h *Handlers) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/", h.Home()).Methods("GET")
	router.HandleFunc("/login", h.Login()).Methods("GET")
	router.HandleFunc("/client.jsonld", h.ClientDocument()).Methods("GET")
	router.HandleFunc("/oauth/login", h.LoginWithActivityPub()).Methods("POST")
	router.HandleFunc("/oauth/logout", h.Logout()).Methods("GET", "POST")
	router.HandleFunc("/oauth/callback", h.OAuthCallback()).Methods("GET")
	router.HandleFunc("/oauth/refresh", h.RefreshToken()).Methods("GET")

	router.Use(h.RequireUser)

	return router
}

// UserFromContext returns the user set by RequireUser.
func UserFromContext(ctx context.Context) (*database.User, bool) {
	u, ok := ctx.Value(userKey).(*database.User)
	return u, ok
}

func (h *Handlers) addFlash(w http.ResponseWriter, r *http.Request, m string) {
	sess, err := h.Session.Get(r, session.CookieName)
	if err != nil {
		h.Logger.Error(err.Error())
		return
	}

	sess.AddFlash(m)

	if err := sess.Save(r, w); err != nil {
		h.Logger.Error(err.Error())
		return
	}
}

func (h *Handlers) getFlash(w http.ResponseWriter, r *http.Request) string {
	sess, err := h.Session.Get(r, session.CookieName)
	if err != nil {
		return ""
	}

	var msg string
	if m := sess.Flashes(); len(m) > 0 {
		msg = fmt.Sprintf(`<article>%s</article>`, html.EscapeString(fmt.Sprint(m[0])))
	}

	if err := sess.Save(r, w); err != nil {
		h.Logger.Error(err.Error())
	}

	return msg
}

// failed saves the session, pending changes included, with the error as a flash message.
func (h *Handlers) failed(w http.ResponseWriter, r *http.Request, err error) {
	h.addFlash(w, r, oauth.Message(err))
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// RequireUser redirects to the login page unless the cookie carries a known actor.
func (h *Handlers) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" || r.URL.Path == "/client.jsonld" || strings.HasPrefix(r.URL.Path, "/oauth") {
			next.ServeHTTP(w, r)
			return
		}

		sess, err := h.Session.Get(r, session.CookieName)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusTemporaryRedirect)
			return
		}

		id, ok := session.String(sess, session.ActorKey)
		if !ok {
			http.Redirect(w, r, "/login", http.StatusTemporaryRedirect)
			return
		}

		user, err := h.Storage.Users.Get(r.Context(), id)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusTemporaryRedirect)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func (h *Handlers) Home() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFromContext(r.Context())
		if !ok {
			http.Redirect(w, r, "/login", http.StatusTemporaryRedirect)
			return
		}

		msg := h.getFlash(w, r)

		var icon string
		if u.Icon != "" {
			icon = fmt.Sprintf(`<div><img src="%s" width="100" height="100" /></div>`, html.EscapeString(u.Icon))
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		w.Write(fmt.Appendf(nil, `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="referrer" content="origin-when-cross-origin">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/@picocss/pico@2/css/pico.classless.purple.min.css">
  <title>ActivityPub OAuth 2.0 Example</title>
</head>
<body>
<header>
	<hgroup>
		<h1>ActivityPub OAuth 2.0 Example</h1>
	</hgroup>
</header>
<main>
	<nav>
	  <ul>
	    <li><a href="/oauth/refresh">Refresh Token</a></li>
	    <li><a href="/oauth/logout">Logout</a></li>
	  </ul>
	</nav>
	%s
	<article>
		<h3>Welcome <a href="%s" target="_blank" title="%s">%s</a>,</h3>
		<div>
			%s
			<p>%s</p>
			<p>%s</p>
		</div>
	</article>
</main>
</body>
</html>
`, msg,
			html.EscapeString(u.ActorID),
			html.EscapeString(u.Handle),
			html.EscapeString(u.DisplayName()),
			icon,
			html.EscapeString(u.Handle),
			html.EscapeString(u.Summary)))
	}
}

func (h *Handlers) Login() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg := h.getFlash(w, r)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		w.Write(fmt.Appendf(nil, `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="referrer" content="origin-when-cross-origin">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/@picocss/pico@2/css/pico.classless.purple.min.css">
  <title>ActivityPub OAuth 2.0 Example</title>
</head>
<body>
<header>
	<hgroup>
		<h1>ActivityPub OAuth 2.0 Example</h1>
	</hgroup>
</header>
<main>
	<article>
		<h3>Login with ActivityPub</h3>
		%s
		<form action="/oauth/login" method="post">
			<p>Provide your fediverse address or actor URL.</p>
			<fieldset role="group">
				<input
					name="actor"
					placeholder="alice@example.social"
					required
				/>
				<input
					type="submit"
					value="Login"
				/>
			</fieldset>
		</form>
	</article>
</main>
</body>
</html>
`, msg))
	}
}

func (h *Handlers) Logout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.Session.Get(r, session.CookieName)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}

		if id, ok := session.String(sess, session.ActorKey); ok {
			if err := h.Storage.OAuth.Delete(r.Context(), id); err != nil {
				h.Logger.Error("failed to delete session", "error", err)
			}

			delete(sess.Values, session.ActorKey)

			if err := sess.Save(r, w); err != nil {
				h.Logger.Error("failed to save session", "error", err)
			}
		}

		http.Redirect(w, r, "/login", http.StatusSeeOther)
	}
}

// LoginWithActivityPub starts the authorization of the submitted actor.
// A previous pending authorization of the same browser is dropped.
func (h *Handlers) LoginWithActivityPub() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		raw := strings.TrimSpace(r.FormValue("actor"))

		if raw == "" {
			h.addFlash(w, r, "Actor cannot be empty")
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}

		sess, err := h.Session.Get(r, session.CookieName)
		if err != nil {
			h.Logger.Warn("session cookie could not be decoded", "error", err)
		}

		if id, ok := session.String(sess, session.FlowKey); ok {
			if err := h.OAuth.Abandon(ctx, id); err != nil {
				h.Logger.Error("failed to drop the previous authorization", "error", err)
			}
			delete(sess.Values, session.FlowKey)
		}

		u, s, err := h.OAuth.Authorize(ctx, raw)
		if err != nil {
			h.Logger.Info("authorization could not start", "actor", raw, "error", err)
			h.failed(w, r, err)
			return
		}

		sess.Values[session.FlowKey] = s.ID
		if err := sess.Save(r, w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, u, http.StatusSeeOther)
	}
}

func (h *Handlers) OAuthCallback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sess, err := h.Session.Get(r, session.CookieName)
		if err != nil {
			h.Logger.Warn("session cookie could not be decoded", "error", err)
		}

		id, _ := session.String(sess, session.FlowKey)
		flow, err := h.OAuth.Pending(ctx, id)
		if err != nil {
			h.Logger.Error("failed to load the pending authorization", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		token, err := h.OAuth.Callback(ctx, flow, oauth.ToCallbackParams(r.URL.Query()))

		delete(sess.Values, session.FlowKey)

		if err != nil {
			h.Logger.Info("authorization failed", "state", flow.State(), "error", err)
			// the flow cookie is dropped, the pending authorization goes with it
			if errors.Is(err, oauth.ErrNoCallbackParams) {
				if err := h.OAuth.Abandon(ctx, id); err != nil {
					h.Logger.Error("failed to drop the pending authorization", "error", err)
				}
			}
			h.failed(w, r, err)
			return
		}

		a := flow.Session.Actor
		osess := &database.OAuthSession{
			ActorID:       a.ID,
			Handle:        a.Handle,
			TokenEndpoint: a.Endpoints.TokenEndpoint,
			AccessToken:   token.AccessToken,
			RefreshToken:  token.RefreshToken,
			TokenType:     token.TokenType,
			Scope:         token.Scope,
			ExpiresAt:     token.ExpiresAt,
		}

		profile, err := actor.NewClient(osess, actor.WithHTTPClient(h.HTTP)).Profile(ctx)
		if err != nil {
			h.Logger.Warn("failed to read the actor profile", "actor", a.ID, "error", err)
			profile = &actor.Profile{ID: a.ID}
		}

		// the token endpoint vouched for a.ID, not for the id in the document
		profile.ID = a.ID

		if _, err = h.Storage.Users.Upsert(ctx, profile.User(a.Handle)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		sess.Values[session.ActorKey] = a.ID
		if err := sess.Save(r, w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func (h *Handlers) RefreshToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sess, err := h.Session.Get(r, session.CookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		id, ok := session.String(sess, session.ActorKey)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		osess, err := h.Storage.OAuth.Get(ctx, id)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		t, err := h.OAuth.Refresh(ctx, osess.TokenEndpoint, oauth.SessionTokens(osess))
		if err != nil {
			h.Logger.Info("token refresh failed", "actor", id, "error", err)
			h.addFlash(w, r, oauth.Message(err))
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}

		osess.AccessToken = t.AccessToken
		osess.RefreshToken = t.RefreshToken
		osess.TokenType = t.TokenType
		osess.Scope = t.Scope
		osess.ExpiresAt = t.ExpiresAt

		if _, err = h.Storage.OAuth.Upsert(ctx, osess); err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		h.addFlash(w, r, "Tokens refreshed.")
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func (h *Handlers) ClientDocument() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := json.Marshal(h.OAuth.Document())
		if err != nil {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", activitypub.ActivityProfile)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Write(b)
	}
}
