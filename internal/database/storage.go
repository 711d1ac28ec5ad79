package database

import (
	"context"
	"fmt"
	"time"

	"github.com/mickaelvieira/activitypub-oauth2-go-example/internal/activitypub/token"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Storage struct {
	OAuth *OAuthStorage
	Users *UsersStorage
}

func New(db *gorm.DB, sealer *token.Sealer) *Storage {
	return &Storage{
		OAuth: &OAuthStorage{db: db, sealer: sealer},
		Users: &UsersStorage{db: db},
	}
}

// OAuthFlowData is a pending authorization waiting for its callback.
type OAuthFlowData struct {
	ID                    uint   `gorm:"primaryKey"`
	FlowID                string `gorm:"column:flow_id;index:idx_oauth_flow_id,unique"`
	State                 string
	ActorID               string
	Handle                string
	PKCEVerifier          string `gorm:"column:pkce_verifier"`
	PKCEChallenge         string `gorm:"column:pkce_challenge"`
	PKCEMethod            string `gorm:"column:pkce_method"`
	AuthorizationEndpoint string
	TokenEndpoint         string
	CreatedAt             time.Time
}

func (OAuthFlowData) TableName() string {
	return "oauth_flow_data"
}

// OAuthSession holds the tokens of a signed in actor.
// Tokens are sealed in the table, the values exposed by OAuthStorage are in clear.
type OAuthSession struct {
	ID            uint   `gorm:"primaryKey"`
	ActorID       string `gorm:"column:actor_id;index:idx_oauth_actor_id,unique"`
	Handle        string
	TokenEndpoint string
	AccessToken   string
	RefreshToken  string
	TokenType     string
	Scope         string
	ExpiresAt     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (OAuthSession) TableName() string {
	return "oauth_sessions"
}

func (o *OAuthSession) IsExpired() bool {
	return !o.ExpiresAt.IsZero() && !time.Now().Before(o.ExpiresAt)
}

type OAuthStorage struct {
	db     *gorm.DB
	sealer *token.Sealer
}

func (o *OAuthStorage) Get(ctx context.Context, actorID string) (*OAuthSession, error) {
	var sess OAuthSession
	if tx := o.db.WithContext(ctx).Where("actor_id = ?", actorID).First(&sess); tx.Error != nil {
		return nil, tx.Error
	}

	access, err := o.sealer.Open(sess.AccessToken)
	if err != nil {
		return nil, err
	}

	refresh, err := o.sealer.Open(sess.RefreshToken)
	if err != nil {
		return nil, err
	}

	sess.AccessToken = access
	sess.RefreshToken = refresh

	return &sess, nil
}

func (o *OAuthStorage) Delete(ctx context.Context, actorID string) error {
	if tx := o.db.WithContext(ctx).Where("actor_id = ?", actorID).Delete(&OAuthSession{}); tx.Error != nil {
		return tx.Error
	}
	return nil
}

// Upsert replaces all the tokens of the actor at once.
func (o *OAuthStorage) Upsert(ctx context.Context, m *OAuthSession) (*OAuthSession, error) {
	access, err := o.sealer.Seal(m.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to seal access token: %w", err)
	}

	refresh, err := o.sealer.Seal(m.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to seal refresh token: %w", err)
	}

	row := *m
	row.AccessToken = access
	row.RefreshToken = refresh

	result := o.db.WithContext(ctx).
		Clauses(
			clause.OnConflict{
				Columns: []clause.Column{{Name: "actor_id"}},
				DoUpdates: clause.AssignmentColumns(
					[]string{
						"handle",
						"token_endpoint",
						"access_token",
						"refresh_token",
						"token_type",
						"scope",
						"expires_at",
						"updated_at",
					}),
			},
		).
		Create(&row)

	if result.Error != nil {
		return nil, result.Error
	}
	return m, nil
}

// User is the profile of the actor read from its actor document.
type User struct {
	ID                uint   `gorm:"primaryKey"`
	ActorID           string `gorm:"column:actor_id;index:idx_user_actor_id,unique"`
	Handle            string
	Type              string
	Name              string
	PreferredUsername string
	Summary           string
	Icon              string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// DisplayName falls back on the username then the actor id.
func (u *User) DisplayName() string {
	switch {
	case u.Name != "":
		return u.Name
	case u.PreferredUsername != "":
		return u.PreferredUsername
	}
	return u.ActorID
}

type UsersStorage struct {
	db *gorm.DB
}

func (o *UsersStorage) Get(ctx context.Context, actorID string) (*User, error) {
	var user User
	if tx := o.db.WithContext(ctx).Where("actor_id = ?", actorID).First(&user); tx.Error != nil {
		return nil, tx.Error
	}
	return &user, nil
}

func (o *UsersStorage) Delete(ctx context.Context, actorID string) error {
	if tx := o.db.WithContext(ctx).Where("actor_id = ?", actorID).Delete(&User{}); tx.Error != nil {
		return tx.Error
	}
	return nil
}

func (o *UsersStorage) Upsert(ctx context.Context, m *User) (*User, error) {
	result := o.db.WithContext(ctx).
		Clauses(
			clause.OnConflict{
				Columns: []clause.Column{{Name: "actor_id"}},
				DoUpdates: clause.AssignmentColumns(
					[]string{
						"handle",
						"type",
						"name",
						"preferred_username",
						"summary",
						"icon",
						"updated_at",
					}),
			},
		).
		Create(m)

	if result.Error != nil {
		return nil, result.Error
	}
	return m, nil
}
