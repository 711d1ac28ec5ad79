package oauth

import (
	"context"
	"sync"

	"github.com/mickaelvieira/activitypub-oauth2-go-example/internal/database"
)

// TokenStore keeps the tokens obtained for an actor after a successful exchange.
type TokenStore interface {
	SaveTokens(ctx context.Context, a Actor, t TokenSet) error
}

type InMemoryTokenStore struct {
	lock   sync.Mutex
	tokens map[string]TokenSet
}

func NewInMemoryTokenStore() *InMemoryTokenStore {
	return &InMemoryTokenStore{tokens: make(map[string]TokenSet)}
}

func (s *InMemoryTokenStore) SaveTokens(_ context.Context, a Actor, t TokenSet) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.tokens[a.ID] = t

	return nil
}

func (s *InMemoryTokenStore) Tokens(actorID string) (TokenSet, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	t, ok := s.tokens[actorID]
	return t, ok
}

// SQLiteTokenStore persists tokens through the database, sealed at rest.
type SQLiteTokenStore struct {
	storage *database.OAuthStorage
}

func NewSQLiteTokenStore(storage *database.OAuthStorage) *SQLiteTokenStore {
	return &SQLiteTokenStore{storage: storage}
}

func (s *SQLiteTokenStore) SaveTokens(ctx context.Context, a Actor, t TokenSet) error {
	_, err := s.storage.Upsert(ctx, &database.OAuthSession{
		ActorID:       a.ID,
		Handle:        a.Handle,
		TokenEndpoint: a.Endpoints.TokenEndpoint,
		AccessToken:   t.AccessToken,
		RefreshToken:  t.RefreshToken,
		TokenType:     t.TokenType,
		Scope:         t.Scope,
		ExpiresAt:     t.ExpiresAt,
	})
	return err
}

// SessionTokens returns the token set held by a stored session.
func SessionTokens(s *database.OAuthSession) TokenSet {
	return TokenSet{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		Scope:        s.Scope,
		ExpiresAt:    s.ExpiresAt,
	}
}
