package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultScope = "read"

// ClientDocument is the JSON-LD document identifying this client to
// authorization servers. Its URL is the client_id.
type ClientDocument struct {
	Context      []string      `json:"@context"`
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Name         string        `json:"name"`
	RedirectURI  string        `json:"redirectURI"`
	Icon         *Link         `json:"icon,omitempty"`
	AttributedTo *Organization `json:"attributedTo,omitempty"`
}

type Link struct {
	Type      string `json:"type"`
	Href      string `json:"href"`
	MediaType string `json:"mediaType,omitempty"`
}

type Organization struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
}

func getClientDocument(baseURL, name string) ClientDocument {
	baseURL = strings.TrimSuffix(baseURL, "/")
	return ClientDocument{
		Context: []string{
			"https://www.w3.org/ns/activitystreams",
			"https://purl.archive.org/socialweb/oauth",
		},
		ID:          baseURL + "/client.jsonld",
		Type:        "Application",
		Name:        name,
		RedirectURI: baseURL + "/oauth/callback",
		Icon: &Link{
			Type:      "Link",
			Href:      baseURL + "/icon.png",
			MediaType: "image/png",
		},
		AttributedTo: &Organization{
			ID:   baseURL + "/organization",
			Type: "Organization",
			Name: "OAuth 2.0 ActivityPub Example",
		},
	}
}

// ExchangeParams are sent to the token endpoint along with grant_type=authorization_code.
// https://datatracker.ietf.org/doc/html/rfc6749#section-4.1.3
type ExchangeParams struct {
	Code         string
	CodeVerifier string
	RedirectURI  string
	ClientID     string
}

// TokenExchanger trades an authorization code for tokens.
//go:generate mockgen -destination=mock_exchanger_test.go -package=oauth . TokenExchanger
type TokenExchanger interface {
	Exchange(ctx context.Context, endpoint string, p ExchangeParams) (*TokenSet, error)
}

type Service interface {
	ClientID() string
	RedirectURI() string
	Document() ClientDocument
	Authorize(ctx context.Context, actor string) (string, *Session, error)
	Pending(ctx context.Context, id string) (*Flow, error)
	Abandon(ctx context.Context, id string) error
	Callback(ctx context.Context, f *Flow, p CallbackParams) (*TokenSet, error)
	Refresh(ctx context.Context, endpoint string, current TokenSet) (*TokenSet, error)
}

type Client struct {
	document  ClientDocument
	scope     string
	http      *http.Client
	logger    *slog.Logger
	storage   Storage
	tokens    TokenStore
	resolver  *Resolver
	exchanger TokenExchanger
	now       func() time.Time
}

var _ Service = (*Client)(nil)

type Option func(c *Client)

func WithStorage(storage Storage) Option {
	return func(c *Client) {
		c.storage = storage
	}
}

func WithTokenStore(tokens TokenStore) Option {
	return func(c *Client) {
		c.tokens = tokens
	}
}

func WithClient(client *http.Client) Option {
	return func(c *Client) {
		c.http = client
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithScope(scope string) Option {
	return func(c *Client) {
		c.scope = scope
	}
}

func WithResolver(r *Resolver) Option {
	return func(c *Client) {
		c.resolver = r
	}
}

func WithExchanger(e TokenExchanger) Option {
	return func(c *Client) {
		c.exchanger = e
	}
}

// NewClient creates a client whose document, client id and redirect URI
// live under baseURL.
func NewClient(baseURL, name string, opts ...Option) *Client {
	c := &Client{
		document: getClientDocument(baseURL, name),
		scope:    DefaultScope,
		storage:  defaultStorage(),
		tokens:   NewInMemoryTokenStore(),
		http:     &http.Client{Timeout: DefaultHTTPTimeout},
		logger:   slog.Default(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.resolver == nil {
		c.resolver = NewResolver(c.http, c.logger)
	}
	if c.exchanger == nil {
		c.exchanger = c
	}

	return c
}

func (c *Client) ClientID() string {
	return c.document.ID
}

func (c *Client) RedirectURI() string {
	return c.document.RedirectURI
}

func (c *Client) Document() ClientDocument {
	return c.document
}

// Authorize discovers the actor's endpoints, starts a pending session and
// returns the URL to redirect the user agent to.
func (c *Client) Authorize(ctx context.Context, actor string) (string, *Session, error) {
	a, err := c.resolver.Discover(ctx, actor)
	if err != nil {
		return "", nil, err
	}

	s, err := NewSession(*a)
	if err != nil {
		return "", nil, err
	}

	u, err := BuildAuthorizationURL(a.Endpoints.AuthorizationEndpoint, AuthorizationRequest{
		ClientID:    c.ClientID(),
		RedirectURI: c.RedirectURI(),
		Scope:       c.scope,
		State:       s.State,
		Challenge:   s.PKCE.Challenge,
	})
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrEndpointsMissing, err)
	}

	if err := c.storage.Set(ctx, s); err != nil {
		return "", nil, err
	}

	c.logger.Info("authorization started", "session", s)

	return u, s, nil
}

// Pending loads the flow started with id. The flow is Idle when nothing is pending.
func (c *Client) Pending(ctx context.Context, id string) (*Flow, error) {
	if id == "" {
		return NewFlow(nil), nil
	}

	s, err := c.storage.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	return NewFlow(s), nil
}

// Abandon drops a pending session, a new login attempt supersedes the previous one.
func (c *Client) Abandon(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return c.storage.Unset(ctx, id)
}

func (c *Client) Exchange(ctx context.Context, endpoint string, p ExchangeParams) (*TokenSet, error) {
	v := url.Values{}
	v.Set("grant_type", GrantTypeAuthorizationCode)
	v.Set("code", p.Code)
	v.Set("redirect_uri", p.RedirectURI)
	v.Set("client_id", p.ClientID)
	v.Set("code_verifier", p.CodeVerifier)

	t, err := c.requestTokens(ctx, endpoint, v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MsgFailedTokensRequest, err)
	}

	c.logger.Debug("tokens received", "tokens", t)

	return t, nil
}

// Refresh returns a new token set replacing current. The refresh token of
// current is carried over when the server does not rotate it.
// https://datatracker.ietf.org/doc/html/rfc6749#section-6
func (c *Client) Refresh(ctx context.Context, endpoint string, current TokenSet) (*TokenSet, error) {
	if current.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", ErrTokenExchangeFailed)
	}

	v := url.Values{}
	v.Set("grant_type", GrantTypeRefreshToken)
	v.Set("refresh_token", current.RefreshToken)
	v.Set("client_id", c.ClientID())

	t, err := c.requestTokens(ctx, endpoint, v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTokenExchangeFailed, MsgFailedTokensRequest, err)
	}

	if t.RefreshToken == "" {
		t.RefreshToken = current.RefreshToken
	}

	return t, nil
}

func (c *Client) requestTokens(ctx context.Context, endpoint string, v url.Values) (*TokenSet, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		endpoint,
		strings.NewReader(v.Encode()),
	)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	r, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	defer r.Body.Close()

	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	if r.StatusCode == http.StatusOK {
		var res accessTokenResponse
		if err := json.Unmarshal(b, &res); err != nil {
			return nil, fmt.Errorf("%s: %v", MsgFailedParsing, err)
		}
		if res.AccessToken == "" {
			return nil, fmt.Errorf("%s: access_token is missing", MsgFailedParsing)
		}
		return res.tokenSet(c.now()), nil
	}

	var oauthError ErrorResponse
	if err := json.Unmarshal(b, &oauthError); err != nil || oauthError.Code == "" {
		return nil, fmt.Errorf("status %d", r.StatusCode)
	}

	return nil, fmt.Errorf("status %d, error %w", r.StatusCode, oauthError)
}
