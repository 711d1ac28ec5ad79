package actor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mickaelvieira/activitypub-oauth2-go-example/internal/activitypub"
	"github.com/mickaelvieira/activitypub-oauth2-go-example/internal/activitypub/oauth"
	"github.com/mickaelvieira/activitypub-oauth2-go-example/internal/database"
	"github.com/tidwall/gjson"
)

const maxBodySize = 1 << 20

var (
	ErrUnauthorized = errors.New("access token rejected")
	ErrInvalidActor = errors.New("invalid actor document")
)

// Profile is the public part of an actor document.
type Profile struct {
	ID                string
	Type              string
	Name              string
	PreferredUsername string
	Summary           string
	Icon              string
}

// User maps the profile onto the users table.
func (p *Profile) User(handle string) *database.User {
	return &database.User{
		ActorID:           p.ID,
		Handle:            handle,
		Type:              p.Type,
		Name:              p.Name,
		PreferredUsername: p.PreferredUsername,
		Summary:           p.Summary,
		Icon:              p.Icon,
	}
}

type Option func(c *Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

func NewClient(s *database.OAuthSession, opts ...Option) *Client {
	c := &Client{
		session: s,
		http:    &http.Client{Timeout: time.Second * 30},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Client reads the actor document on behalf of a signed in actor.
type Client struct {
	session *database.OAuthSession
	http    *http.Client
}

func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	b, err := c.get(ctx, c.session.ActorID)
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(b) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidActor, oauth.MsgFailedParsing)
	}

	doc := gjson.ParseBytes(b)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: not an object", ErrInvalidActor)
	}

	p := &Profile{
		ID:                doc.Get("id").String(),
		Type:              doc.Get("type").String(),
		Name:              doc.Get("name").String(),
		PreferredUsername: doc.Get("preferredUsername").String(),
		Summary:           doc.Get("summary").String(),
		Icon:              iconURL(doc.Get("icon")),
	}

	if p.ID == "" {
		p.ID = c.session.ActorID
	}

	return p, nil
}

// iconURL accepts a plain URL, an Image object or a list of either.
func iconURL(v gjson.Result) string {
	switch {
	case v.IsArray():
		for _, i := range v.Array() {
			if u := iconURL(i); u != "" {
				return u
			}
		}
	case v.IsObject():
		if u := v.Get("url"); u.Exists() {
			return iconURL(u)
		}
		return v.Get("href").String()
	case v.Type == gjson.String:
		return v.String()
	}
	return ""
}

func (c *Client) get(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", strings.Join([]string{activitypub.ActivityJSONType, activitypub.ActivityProfile}, ", "))
	tokenType := c.session.TokenType
	if tokenType == "" || strings.EqualFold(tokenType, "bearer") {
		tokenType = "Bearer"
	}
	req.Header.Set("Authorization", fmt.Sprintf("%s %s", tokenType, c.session.AccessToken))

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", oauth.ErrNetwork, err)
	}

	defer res.Body.Close()

	b, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", oauth.ErrNetwork, err)
	}

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, res.StatusCode)
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: status %d", oauth.ErrActorNotFound, res.StatusCode)
	case res.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s: status %d", oauth.MsgFailedActorFetch, res.StatusCode)
	}

	return b, nil
}
