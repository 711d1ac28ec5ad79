package actor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/mickaelvieira/activitypub-oauth2-go-example/internal/activitypub/oauth"
	"github.com/mickaelvieira/activitypub-oauth2-go-example/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Value) {
	t.Helper()
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/activity+json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &auth
}

func TestProfile(t *testing.T) {
	srv, auth := testServer(t, http.StatusOK, `{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": "https://example.social/users/alice",
		"type": "Person",
		"name": "Alice",
		"preferredUsername": "alice",
		"summary": "<p>hello</p>",
		"icon": {"type": "Image", "mediaType": "image/png", "url": "https://example.social/alice.png"}
	}`)

	c := NewClient(&database.OAuthSession{ActorID: srv.URL + "/users/alice", AccessToken: "tkn"}, WithHTTPClient(srv.Client()))
	p, err := c.Profile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Bearer tkn", auth.Load())
	assert.Equal(t, &Profile{
		ID:                "https://example.social/users/alice",
		Type:              "Person",
		Name:              "Alice",
		PreferredUsername: "alice",
		Summary:           "<p>hello</p>",
		Icon:              "https://example.social/alice.png",
	}, p)

	u := p.User("alice@example.social")
	assert.Equal(t, "https://example.social/users/alice", u.ActorID)
	assert.Equal(t, "alice@example.social", u.Handle)
	assert.Equal(t, "Alice", u.DisplayName())
}

func TestProfileMissingID(t *testing.T) {
	srv, _ := testServer(t, http.StatusOK, `{"type": "Person"}`)

	c := NewClient(&database.OAuthSession{ActorID: srv.URL + "/users/alice"}, WithHTTPClient(srv.Client()))
	p, err := c.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/users/alice", p.ID)
}

func TestProfileErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, `{}`, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, `{}`, ErrUnauthorized},
		{"gone", http.StatusGone, `{}`, oauth.ErrActorNotFound},
		{"not json", http.StatusOK, `<html>`, ErrInvalidActor},
		{"not an object", http.StatusOK, `[]`, ErrInvalidActor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t, tt.status, tt.body)
			c := NewClient(&database.OAuthSession{ActorID: srv.URL}, WithHTTPClient(srv.Client()))
			_, err := c.Profile(context.Background())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestIconURL(t *testing.T) {
	srv, _ := testServer(t, http.StatusOK, `{"id": "x", "icon": [{"type": "Image", "url": [{"href": "https://example.social/a.png"}]}]}`)
	c := NewClient(&database.OAuthSession{ActorID: srv.URL}, WithHTTPClient(srv.Client()))
	p, err := c.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://example.social/a.png", p.Icon)
}
