package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mickaelvieira/activitypub-oauth2-go-example/internal/database"
	"gorm.io/gorm"
)

// DefaultFlowTTL bounds how long a pending authorization may wait for its callback.
const DefaultFlowTTL = 10 * time.Minute

// Session carries the data of one in-flight authorization.
// It is stored between the login request and the callback and
// deleted once the callback has been handled, whatever the outcome.
type Session struct {
	ID        string
	Actor     Actor
	PKCE      PKCE
	State     string
	CreatedAt time.Time
}

// NewSession generates the verifier and the state of a new authorization attempt.
func NewSession(a Actor) (*Session, error) {
	p, err := newPKCE()
	if err != nil {
		return nil, err
	}

	state, err := GenerateState()
	if err != nil {
		return nil, err
	}

	return &Session{
		ID:        uuid.NewString(),
		Actor:     a,
		PKCE:      p,
		State:     state,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (s *Session) expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(s.CreatedAt) > ttl
}

func (s *Session) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", s.ID),
		slog.String("actor", s.Actor.ID),
		slog.String("verifier", strings.Repeat("x", len(s.PKCE.Verifier))),
		slog.Time("created_at", s.CreatedAt))
}

// Storage keeps pending sessions across the redirect to the authorization server.
// Get returns nil and no error when the session does not exist or has expired.
type Storage interface {
	Set(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Unset(ctx context.Context, id string) error
}

type InMemoryStorage struct {
	lock    sync.Mutex
	ttl     time.Duration
	storage map[string]*Session
}

func NewInMemoryStorage(ttl time.Duration) *InMemoryStorage {
	return &InMemoryStorage{
		ttl:     ttl,
		storage: make(map[string]*Session),
	}
}

func defaultStorage() Storage {
	return NewInMemoryStorage(DefaultFlowTTL)
}

func (c *InMemoryStorage) Set(_ context.Context, s *Session) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.storage[s.ID] = s

	return nil
}

func (c *InMemoryStorage) Get(_ context.Context, id string) (*Session, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	s, ok := c.storage[id]
	if !ok {
		return nil, nil
	}

	if s.expired(time.Now(), c.ttl) {
		delete(c.storage, id)
		return nil, nil
	}

	return s, nil
}

func (c *InMemoryStorage) Unset(_ context.Context, id string) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	delete(c.storage, id)

	return nil
}

func NewSQLiteStorage(db *gorm.DB, ttl time.Duration) *SQLiteStorage {
	return &SQLiteStorage{db: db, ttl: ttl}
}

type SQLiteStorage struct {
	db  *gorm.DB
	ttl time.Duration
}

func (c *SQLiteStorage) Set(ctx context.Context, s *Session) error {
	tx := c.db.WithContext(ctx).Create(&database.OAuthFlowData{
		FlowID:                s.ID,
		State:                 s.State,
		ActorID:               s.Actor.ID,
		Handle:                s.Actor.Handle,
		PKCEVerifier:          s.PKCE.Verifier,
		PKCEChallenge:         s.PKCE.Challenge,
		PKCEMethod:            s.PKCE.Method,
		AuthorizationEndpoint: s.Actor.Endpoints.AuthorizationEndpoint,
		TokenEndpoint:         s.Actor.Endpoints.TokenEndpoint,
		CreatedAt:             s.CreatedAt,
	})
	if tx.Error != nil {
		return fmt.Errorf("failed to store flow %s: %w", s.ID, tx.Error)
	}
	return nil
}

func (c *SQLiteStorage) Get(ctx context.Context, id string) (*Session, error) {
	var data database.OAuthFlowData
	if tx := c.db.WithContext(ctx).Where("flow_id = ?", id).First(&data); tx.Error != nil {
		if errors.Is(tx.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load flow %s: %w", id, tx.Error)
	}

	s := &Session{
		ID:    data.FlowID,
		State: data.State,
		Actor: Actor{
			ID:     data.ActorID,
			Handle: data.Handle,
			Endpoints: ActorEndpoints{
				AuthorizationEndpoint: data.AuthorizationEndpoint,
				TokenEndpoint:         data.TokenEndpoint,
			},
		},
		PKCE: PKCE{
			Verifier:  data.PKCEVerifier,
			Challenge: data.PKCEChallenge,
			Method:    data.PKCEMethod,
		},
		CreatedAt: data.CreatedAt,
	}

	if s.expired(time.Now(), c.ttl) {
		return nil, c.Unset(ctx, id)
	}

	return s, nil
}

func (c *SQLiteStorage) Unset(ctx context.Context, id string) error {
	if tx := c.db.WithContext(ctx).Where("flow_id = ?", id).Delete(&database.OAuthFlowData{}); tx.Error != nil {
		return fmt.Errorf("failed to remove flow %s: %w", id, tx.Error)
	}
	return nil
}
