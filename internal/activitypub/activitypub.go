package activitypub

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"golang.org/x/net/idna"
)

const (
	// https://www.w3.org/TR/activitypub/#retrieving-objects
	ActivityJSONType = "application/activity+json"
	LDJSONType       = "application/ld+json"
	ActivityProfile  = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

	// https://datatracker.ietf.org/doc/html/rfc7033#section-10.2
	JRDType = "application/jrd+json"
)

var ErrInvalidActor = errors.New("invalid actor identifier")

// Identifier is an actor reference normalized for a webfinger lookup.
type Identifier struct {
	// Domain hosting the webfinger endpoint, IDNA encoded.
	Domain string
	// Resource is the value of the webfinger "resource" parameter,
	// either acct:user@domain or the actor URI.
	Resource string
	// Handle is user@domain when the actor was given as a handle.
	Handle string
	// URI is set when the actor was given as an http(s) URI.
	URI string
}

func (i Identifier) IsURI() bool {
	return i.URI != ""
}

// ParseActor accepts user@domain, @user@domain, acct:user@domain
// or an https actor URI.
func ParseActor(raw string) (Identifier, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return Identifier{}, fmt.Errorf("%w: empty value", ErrInvalidActor)
	}

	if strings.HasPrefix(v, "https://") || strings.HasPrefix(v, "http://") {
		return parseURI(v)
	}

	v = strings.TrimPrefix(v, "acct:")
	v = strings.TrimPrefix(v, "@")

	user, domain, ok := strings.Cut(v, "@")
	if !ok || user == "" || domain == "" || strings.ContainsAny(user, "@/ ") {
		return Identifier{}, fmt.Errorf("%w: %q is not a user@domain handle", ErrInvalidActor, raw)
	}

	d, err := normalizeDomain(domain)
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: %v", ErrInvalidActor, err)
	}

	// domain must be a DNS name, the same constraint as an atproto handle
	if _, err := syntax.ParseHandle(d); err != nil {
		return Identifier{}, fmt.Errorf("%w: %v", ErrInvalidActor, err)
	}

	handle := user + "@" + d

	return Identifier{
		Domain:   d,
		Resource: "acct:" + handle,
		Handle:   handle,
	}, nil
}

func parseURI(v string) (Identifier, error) {
	u, err := url.Parse(v)
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: %v", ErrInvalidActor, err)
	}

	if u.Host == "" || u.User != nil {
		return Identifier{}, fmt.Errorf("%w: %q has no usable host", ErrInvalidActor, v)
	}

	host, err := normalizeDomain(u.Hostname())
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: %v", ErrInvalidActor, err)
	}

	domain := host
	if p := u.Port(); p != "" {
		domain = host + ":" + p
	}

	u.Host = domain
	u.Fragment = ""
	u.RawFragment = ""

	return Identifier{
		Domain:   domain,
		Resource: u.String(),
		URI:      u.String(),
	}, nil
}

func normalizeDomain(d string) (string, error) {
	a, err := idna.Lookup.ToASCII(strings.TrimSuffix(d, "."))
	if err != nil {
		return "", err
	}
	return strings.ToLower(a), nil
}

// IsActivityType reports whether a media type denotes an ActivityStreams document.
func IsActivityType(mediaType string) bool {
	mt := strings.TrimSpace(strings.ToLower(mediaType))
	if mt == ActivityJSONType {
		return true
	}
	return strings.HasPrefix(mt, LDJSONType) && strings.Contains(mt, "activitystreams")
}
