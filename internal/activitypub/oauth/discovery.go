package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mickaelvieira/activitypub-oauth2-go-example/internal/activitypub"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
)

const (
	// https://datatracker.ietf.org/doc/html/rfc7033#section-4
	WellKnownWebfingerPath = "/.well-known/webfinger"

	DefaultHTTPTimeout = 10 * time.Second
)

// Property names, without namespace, under which actor documents advertise
// their OAuth endpoints. There is no settled vocabulary so several are accepted.
var (
	authorizationEndpointNames = []string{"oauthAuthorizationEndpoint", "authorizationEndpoint"}
	tokenEndpointNames         = []string{"oauthTokenEndpoint", "tokenEndpoint"}
)

// https://datatracker.ietf.org/doc/html/rfc7033#section-4.4
type webfingerResponse struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases"`
	Links   []webfingerLink `json:"links"`
}

type webfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type"`
	Href string `json:"href"`
}

// selfLink prefers a self link typed as an ActivityStreams document.
func (w webfingerResponse) selfLink() string {
	var fallback string
	for _, l := range w.Links {
		if l.Rel != "self" || l.Href == "" {
			continue
		}
		if activitypub.IsActivityType(l.Type) {
			return l.Href
		}
		if fallback == "" {
			fallback = l.Href
		}
	}
	return fallback
}

// Resolver finds the OAuth endpoints of an ActivityPub actor.
// Failed lookups are returned as is, they are never retried.
type Resolver struct {
	http   *http.Client
	logger *slog.Logger
	group  singleflight.Group
}

func NewResolver(client *http.Client, logger *slog.Logger) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{http: client, logger: logger}
}

// Resolve returns the endpoints of the actor, given as user@domain or actor URI.
func (r *Resolver) Resolve(ctx context.Context, actor string) (ActorEndpoints, error) {
	a, err := r.Discover(ctx, actor)
	if err != nil {
		return ActorEndpoints{}, err
	}
	return a.Endpoints, nil
}

// Discover resolves the actor document and its OAuth endpoints.
func (r *Resolver) Discover(ctx context.Context, actor string) (*Actor, error) {
	id, err := activitypub.ParseActor(actor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrActorNotFound, err)
	}

	// Concurrent submissions for the same actor share a single lookup. The
	// lookup is detached from the caller that started it, each caller only
	// gives up on its own context.
	ch := r.group.DoChan(id.Resource, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.lookupTimeout())
		defer cancel()
		return r.discover(lookupCtx, id)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrNetwork, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		a := *res.Val.(*Actor)
		return &a, nil
	}
}

// lookupTimeout bounds a shared lookup, a webfinger request then an actor document fetch.
func (r *Resolver) lookupTimeout() time.Duration {
	if r.http.Timeout > 0 {
		return 2 * r.http.Timeout
	}
	return 2 * DefaultHTTPTimeout
}

func (r *Resolver) discover(ctx context.Context, id activitypub.Identifier) (*Actor, error) {
	actorURL, err := r.webfinger(ctx, id)
	if err != nil {
		if !id.IsURI() || !errors.Is(err, ErrActorNotFound) {
			return nil, err
		}
		r.logger.Debug("webfinger did not resolve actor URI, fetching it directly", "actor", id.URI)
		actorURL = id.URI
	}

	doc, err := r.get(ctx, actorURL, activitypub.ActivityProfile+", "+activitypub.ActivityJSONType)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MsgFailedActorFetch, err)
	}

	root := gjson.ParseBytes(doc)
	if !gjson.ValidBytes(doc) || !root.IsObject() {
		return nil, fmt.Errorf("%w: %s: actor document is not a JSON object", ErrActorNotFound, MsgFailedParsing)
	}

	endpoints, err := extractEndpoints(root)
	if err != nil {
		return nil, err
	}

	a := &Actor{
		ID:        root.Get("id").String(),
		Handle:    id.Handle,
		Endpoints: endpoints,
	}
	if a.ID == "" {
		a.ID = actorURL
	}

	r.logger.Debug("resolved actor endpoints",
		"actor", a.ID,
		"authorization_endpoint", endpoints.AuthorizationEndpoint,
		"token_endpoint", endpoints.TokenEndpoint)

	return a, nil
}

// webfinger returns the URL of the actor document.
func (r *Resolver) webfinger(ctx context.Context, id activitypub.Identifier) (string, error) {
	u := &url.URL{
		Scheme:   "https",
		Host:     id.Domain,
		Path:     WellKnownWebfingerPath,
		RawQuery: url.Values{"resource": {id.Resource}}.Encode(),
	}

	b, err := r.get(ctx, u.String(), activitypub.JRDType+", application/json")
	if err != nil {
		return "", fmt.Errorf("%s: %w", MsgFailedWebfinger, err)
	}

	var jrd webfingerResponse
	if err := json.Unmarshal(b, &jrd); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrActorNotFound, MsgFailedParsing, err)
	}

	href := jrd.selfLink()
	if href == "" {
		return "", fmt.Errorf("%w: no self link for %s", ErrActorNotFound, id.Resource)
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("%w: invalid self link %q", ErrActorNotFound, href)
	}

	return u.ResolveReference(ref).String(), nil
}

func (r *Resolver) get(ctx context.Context, uri string, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrActorNotFound, err)
	}

	req.Header.Set("Accept", accept)

	res, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s returned status %d", ErrActorNotFound, uri, res.StatusCode)
	case res.StatusCode < 200 || res.StatusCode > 299:
		return nil, fmt.Errorf("%w: %s returned status %d", ErrNetwork, uri, res.StatusCode)
	}

	b, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	return b, nil
}

// extractEndpoints looks into the endpoints object first then at the top level
// of the actor document. Both endpoints must be found.
func extractEndpoints(doc gjson.Result) (ActorEndpoints, error) {
	var e ActorEndpoints

	scopes := []struct {
		value  gjson.Result
		nested bool
	}{
		{doc.Get("endpoints"), true},
		{doc, false},
	}

	for _, s := range scopes {
		if !s.value.IsObject() {
			continue
		}
		if e.AuthorizationEndpoint == "" {
			e.AuthorizationEndpoint = findEndpoint(s.value, authorizationEndpointNames, s.nested)
		}
		if e.TokenEndpoint == "" {
			e.TokenEndpoint = findEndpoint(s.value, tokenEndpointNames, s.nested)
		}
	}

	if e.AuthorizationEndpoint == "" || e.TokenEndpoint == "" {
		return ActorEndpoints{}, ErrEndpointsMissing
	}

	return e, nil
}

// findEndpoint matches keys by local name so that compact IRIs (as:name, oauth:name)
// and expanded IRIs (https://...#name) are accepted alongside plain names.
// The short names without the oauth prefix are too generic to be trusted
// at the top level unless they are namespaced.
func findEndpoint(obj gjson.Result, names []string, nested bool) string {
	var found string
	obj.ForEach(func(key, value gjson.Result) bool {
		name, namespaced := localName(key.String())
		for i, n := range names {
			if name != n || (i > 0 && !nested && !namespaced) {
				continue
			}
			if v := endpointValue(value); v != "" {
				found = v
				return false
			}
		}
		return true
	})
	return found
}

func localName(key string) (string, bool) {
	if i := strings.LastIndexAny(key, "#:/"); i >= 0 {
		return key[i+1:], true
	}
	return key, false
}

// endpointValue accepts a URL string, a Link or object carrying an id,
// JSON-LD value objects and arrays thereof.
func endpointValue(v gjson.Result) string {
	switch {
	case v.Type == gjson.String:
		if isHTTPURL(v.String()) {
			return v.String()
		}
	case v.IsArray():
		for _, item := range v.Array() {
			if s := endpointValue(item); s != "" {
				return s
			}
		}
	case v.IsObject():
		var s string
		v.ForEach(func(key, value gjson.Result) bool {
			switch key.String() {
			case "id", "@id", "href", "@value":
				s = endpointValue(value)
			}
			return s == ""
		})
		return s
	}
	return ""
}

func isHTTPURL(v string) bool {
	u, err := url.Parse(v)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}
