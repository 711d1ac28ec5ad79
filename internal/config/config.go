package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	FlowStorageMemory = "memory"
	FlowStorageSQLite = "sqlite"
	FlowStorageRedis  = "redis"
)

// Config holds the environment based configuration of the web service.
type Config struct {
	Host string `env:"HOST" envDefault:"127.0.0.1"`
	Port string `env:"PORT" envDefault:"9000"`

	// PublicURL is where the service is reachable by the authorization servers.
	// It defaults to http://HOST:PORT.
	PublicURL string `env:"PUBLIC_URL"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// SecretJWK seals the tokens at rest, SessionKey signs the cookie, see genkey
	SecretJWK  string `env:"SECRET_JWK,required,notEmpty"`
	SessionKey string `env:"SESSION_KEY,required,notEmpty"`

	DatabasePath string `env:"DATABASE_PATH" envDefault:"data/oauth.db"`

	FlowStorage string        `env:"FLOW_STORAGE" envDefault:"sqlite"`
	RedisAddr   string        `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	FlowTTL     time.Duration `env:"FLOW_TTL" envDefault:"10m"`

	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`
	Scope       string        `env:"OAUTH_SCOPE" envDefault:"read"`
	ClientName  string        `env:"CLIENT_NAME" envDefault:"ActivityPub OAuth 2.0 Example"`
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.PublicURL == "" {
		cfg.PublicURL = fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port)
	}
	cfg.PublicURL = strings.TrimSuffix(cfg.PublicURL, "/")

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// minSessionKeySize is the smallest HMAC key accepted for the session cookie.
const minSessionKeySize = 32

func (c *Config) validate() error {
	if len(c.SessionKey) < minSessionKeySize {
		return fmt.Errorf("SESSION_KEY must be at least %d characters", minSessionKeySize)
	}

	if c.SessionKey == c.SecretJWK {
		return errors.New("SESSION_KEY must differ from SECRET_JWK")
	}

	u, err := url.Parse(c.PublicURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("PUBLIC_URL %q must be an absolute http(s) URL", c.PublicURL)
	}

	switch c.FlowStorage {
	case FlowStorageMemory, FlowStorageSQLite:
	case FlowStorageRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required when FLOW_STORAGE is redis")
		}
	default:
		return fmt.Errorf("FLOW_STORAGE must be one of memory, sqlite or redis, got %q", c.FlowStorage)
	}

	if c.FlowTTL <= 0 {
		return errors.New("FLOW_TTL must be positive")
	}

	if c.HTTPTimeout <= 0 {
		return errors.New("HTTP_TIMEOUT must be positive")
	}

	if strings.TrimSpace(c.Scope) == "" {
		return errors.New("OAUTH_SCOPE cannot be empty")
	}

	return nil
}
