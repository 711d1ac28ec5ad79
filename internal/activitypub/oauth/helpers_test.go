package oauth

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// rewriteTransport sends every request to target whatever the host of
// the request URL, the original host is kept in the Host header.
type rewriteTransport struct {
	target *url.URL
}

func (t rewriteTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.URL.Scheme = t.target.Scheme
	r.URL.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

func testHTTPClient(t *testing.T, srv *httptest.Server) *http.Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return &http.Client{
		Timeout:   2 * time.Second,
		Transport: rewriteTransport{target: u},
	}
}

const (
	testActorID       = "https://example.social/users/alice"
	testAuthorizeURL  = "https://example.social/oauth/authorize"
	testTokenURL      = "https://example.social/oauth/token"
	testWebfingerJRD  = `{"subject":"acct:alice@example.social","links":[{"rel":"http://webfinger.net/rel/profile-page","type":"text/html","href":"https://example.social/@alice"},{"rel":"self","type":"application/activity+json","href":"https://example.social/users/alice"}]}`
	testActorDocument = `{
		"@context": ["https://www.w3.org/ns/activitystreams", "https://purl.archive.org/socialweb/oauth"],
		"id": "https://example.social/users/alice",
		"type": "Person",
		"preferredUsername": "alice",
		"name": "Alice",
		"oauthAuthorizationEndpoint": "https://example.social/oauth/authorize",
		"oauthTokenEndpoint": "https://example.social/oauth/token"
	}`
)

// fediverse is a fake ActivityPub server hosting alice@example.social.
type fediverse struct {
	*httptest.Server
	actorDocument string
	webfinger     string
	webfingerHits atomic.Int32
	// webfingerGate holds webfinger responses until it is closed, when set
	webfingerGate chan struct{}
	tokenHandler  http.HandlerFunc
}

func newFediverse(t *testing.T) *fediverse {
	t.Helper()

	f := &fediverse{
		actorDocument: testActorDocument,
		webfinger:     testWebfingerJRD,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/webfinger", func(w http.ResponseWriter, r *http.Request) {
		f.webfingerHits.Add(1)
		if f.webfingerGate != nil {
			select {
			case <-f.webfingerGate:
			case <-r.Context().Done():
				return
			}
		}
		if r.Host != "example.social" || r.URL.Query().Get("resource") != "acct:alice@example.social" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/jrd+json")
		fmt.Fprint(w, f.webfinger)
	})
	mux.HandleFunc("/users/alice", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/activity+json")
		fmt.Fprint(w, f.actorDocument)
	})
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if f.tokenHandler == nil {
			http.NotFound(w, r)
			return
		}
		f.tokenHandler(w, r)
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)

	return f
}
