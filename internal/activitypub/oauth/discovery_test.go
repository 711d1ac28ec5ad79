package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver(t *testing.T, f *fediverse) *Resolver {
	t.Helper()
	return NewResolver(testHTTPClient(t, f.Server), testLogger())
}

func TestResolve(t *testing.T) {
	f := newFediverse(t)

	e, err := testResolver(t, f).Resolve(context.Background(), "alice@example.social")
	require.NoError(t, err)
	assert.Equal(t, ActorEndpoints{
		AuthorizationEndpoint: testAuthorizeURL,
		TokenEndpoint:         testTokenURL,
	}, e)
}

func TestDiscover(t *testing.T) {
	f := newFediverse(t)

	a, err := testResolver(t, f).Discover(context.Background(), "@alice@example.social")
	require.NoError(t, err)
	assert.Equal(t, testActorID, a.ID)
	assert.Equal(t, "alice@example.social", a.Handle)
}

func TestDiscoverEndToEnd(t *testing.T) {
	f := newFediverse(t)
	c := NewClient("https://client.example", "Test Client",
		WithClient(testHTTPClient(t, f.Server)),
		WithLogger(testLogger()),
	)

	raw, s, err := c.Authorize(context.Background(), "alice@example.social")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "example.social", u.Host)
	assert.Equal(t, "/oauth/authorize", u.Path)

	q := u.Query()
	assert.Equal(t, "https://client.example/client.jsonld", q.Get("client_id"))
	assert.Equal(t, "https://client.example/oauth/callback", q.Get("redirect_uri"))
	assert.Equal(t, DefaultScope, q.Get("scope"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, s.State, q.Get("state"))
	assert.Equal(t, DeriveChallenge(s.PKCE.Verifier), q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))

	flow, err := c.Pending(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, AwaitingCallback, flow.State())
	assert.Equal(t, testTokenURL, flow.Session.Actor.Endpoints.TokenEndpoint)
}

func TestResolveTolerantPropertyNames(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "endpoints object",
			doc: `{"id":"https://example.social/users/alice","endpoints":{
				"sharedInbox":"https://example.social/inbox",
				"oauthAuthorizationEndpoint":"https://example.social/oauth/authorize",
				"oauthTokenEndpoint":"https://example.social/oauth/token"}}`,
		},
		{
			name: "compact IRIs",
			doc: `{"id":"https://example.social/users/alice",
				"as:oauthAuthorizationEndpoint":"https://example.social/oauth/authorize",
				"oauth:tokenEndpoint":"https://example.social/oauth/token"}`,
		},
		{
			name: "expanded IRIs",
			doc: `{"@id":"https://example.social/users/alice",
				"https://www.w3.org/ns/activitystreams#oauthAuthorizationEndpoint":[{"@id":"https://example.social/oauth/authorize"}],
				"https://purl.archive.org/socialweb/oauth#tokenEndpoint":[{"@value":"https://example.social/oauth/token"}]}`,
		},
		{
			name: "link objects",
			doc: `{"id":"https://example.social/users/alice",
				"oauthAuthorizationEndpoint":{"type":"Link","href":"https://example.social/oauth/authorize"},
				"oauthTokenEndpoint":{"id":"https://example.social/oauth/token"}}`,
		},
		{
			name: "endpoints object takes precedence",
			doc: `{"id":"https://example.social/users/alice",
				"oauthAuthorizationEndpoint":"https://other.example/authorize",
				"endpoints":{"authorizationEndpoint":"https://example.social/oauth/authorize"},
				"oauthTokenEndpoint":"https://example.social/oauth/token"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFediverse(t)
			f.actorDocument = tt.doc

			e, err := testResolver(t, f).Resolve(context.Background(), "alice@example.social")
			require.NoError(t, err)
			assert.Equal(t, testAuthorizeURL, e.AuthorizationEndpoint)
			assert.Equal(t, testTokenURL, e.TokenEndpoint)
		})
	}
}

func TestResolveEndpointsMissing(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no endpoints", `{"id":"https://example.social/users/alice","type":"Person"}`},
		{"authorization only", `{"id":"x","oauthAuthorizationEndpoint":"https://example.social/oauth/authorize"}`},
		{"token only", `{"id":"x","endpoints":{"oauthTokenEndpoint":"https://example.social/oauth/token"}}`},
		{"un-namespaced short names", `{"id":"x","authorizationEndpoint":"https://example.social/oauth/authorize","tokenEndpoint":"https://example.social/oauth/token"}`},
		{"relative URLs", `{"id":"x","oauthAuthorizationEndpoint":"/oauth/authorize","oauthTokenEndpoint":"/oauth/token"}`},
		{"non http scheme", `{"id":"x","oauthAuthorizationEndpoint":"ftp://example.social/a","oauthTokenEndpoint":"https://example.social/oauth/token"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFediverse(t)
			f.actorDocument = tt.doc

			e, err := testResolver(t, f).Resolve(context.Background(), "alice@example.social")
			assert.ErrorIs(t, err, ErrEndpointsMissing)
			assert.Equal(t, ActorEndpoints{}, e)
		})
	}
}

func TestResolveActorNotFound(t *testing.T) {
	t.Run("malformed identifier", func(t *testing.T) {
		f := newFediverse(t)
		_, err := testResolver(t, f).Resolve(context.Background(), "not an actor")
		assert.ErrorIs(t, err, ErrActorNotFound)
		assert.Zero(t, f.webfingerHits.Load())
	})

	t.Run("webfinger 404", func(t *testing.T) {
		f := newFediverse(t)
		_, err := testResolver(t, f).Resolve(context.Background(), "bob@example.social")
		assert.ErrorIs(t, err, ErrActorNotFound)
	})

	t.Run("no self link", func(t *testing.T) {
		f := newFediverse(t)
		f.webfinger = `{"subject":"acct:alice@example.social","links":[{"rel":"http://webfinger.net/rel/profile-page","href":"https://example.social/@alice"}]}`
		_, err := testResolver(t, f).Resolve(context.Background(), "alice@example.social")
		assert.ErrorIs(t, err, ErrActorNotFound)
	})

	t.Run("malformed webfinger", func(t *testing.T) {
		f := newFediverse(t)
		f.webfinger = `<html></html>`
		_, err := testResolver(t, f).Resolve(context.Background(), "alice@example.social")
		assert.ErrorIs(t, err, ErrActorNotFound)
	})

	t.Run("actor document is not an object", func(t *testing.T) {
		f := newFediverse(t)
		f.actorDocument = `["nope"]`
		_, err := testResolver(t, f).Resolve(context.Background(), "alice@example.social")
		assert.ErrorIs(t, err, ErrActorNotFound)
	})
}

func TestResolveSelfLinkPreference(t *testing.T) {
	f := newFediverse(t)
	f.webfinger = `{"links":[
		{"rel":"self","type":"text/html","href":"https://example.social/missing"},
		{"rel":"self","type":"application/ld+json; profile=\"https://www.w3.org/ns/activitystreams\"","href":"/users/alice"}]}`

	e, err := testResolver(t, f).Resolve(context.Background(), "alice@example.social")
	require.NoError(t, err)
	assert.Equal(t, testTokenURL, e.TokenEndpoint)
}

func TestResolveActorURIFallsBackToDocument(t *testing.T) {
	f := newFediverse(t)

	a, err := testResolver(t, f).Discover(context.Background(), testActorID)
	require.NoError(t, err)
	assert.Equal(t, testActorID, a.ID)
	assert.Empty(t, a.Handle)
	assert.Equal(t, testAuthorizeURL, a.Endpoints.AuthorizationEndpoint)
	assert.EqualValues(t, 1, f.webfingerHits.Load())
}

func TestResolveNetworkError(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		t.Cleanup(srv.Close)

		_, err := NewResolver(testHTTPClient(t, srv), testLogger()).Resolve(context.Background(), "alice@example.social")
		assert.ErrorIs(t, err, ErrNetwork)
	})

	t.Run("timeout", func(t *testing.T) {
		var hits int
		var mu sync.Mutex
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			hits++
			mu.Unlock()
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		t.Cleanup(srv.Close)

		client := testHTTPClient(t, srv)
		client.Timeout = 50 * time.Millisecond

		_, err := NewResolver(client, testLogger()).Resolve(context.Background(), "alice@example.social")
		assert.ErrorIs(t, err, ErrNetwork)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 1, hits, "lookups are not retried")
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		client := testHTTPClient(t, srv)
		srv.Close()

		_, err := NewResolver(client, testLogger()).Resolve(context.Background(), "alice@example.social")
		assert.ErrorIs(t, err, ErrNetwork)
	})
}

func TestResolveConcurrentLookups(t *testing.T) {
	f := newFediverse(t)
	r := testResolver(t, f)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Resolve(context.Background(), "alice@example.social")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, fmt.Sprintf("lookup %d", i))
	}
}

func TestResolveCancelledCallerDoesNotFailOthers(t *testing.T) {
	f := newFediverse(t)
	gate := make(chan struct{})
	f.webfingerGate = gate
	var once sync.Once
	release := func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)

	r := testResolver(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx, "alice@example.social")
		errA <- err
	}()

	require.Eventually(t, func() bool { return f.webfingerHits.Load() == 1 }, time.Second, 5*time.Millisecond)

	errB := make(chan error, 1)
	go func() {
		_, err := r.Resolve(context.Background(), "alice@example.social")
		errB <- err
	}()

	// let the second lookup join the one in flight
	time.Sleep(50 * time.Millisecond)

	cancel()
	err := <-errA
	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, context.Canceled)

	release()
	assert.NoError(t, <-errB)
	assert.Equal(t, int32(1), f.webfingerHits.Load())
}
