package session

import (
	"time"

	"github.com/caarlos0/env/v11"
	goerrors "github.com/goliatone/go-errors"
)

// Config holds session manager options
type Config interface {
	GetBaseURL() string
	GetLoginRoute() string
	GetFetchTimeout() time.Duration
	GetLogoutTimeout() time.Duration
	GetStoragePath() string
}

// EnvConfig is a Config sourced from the process environment.
type EnvConfig struct {
	BaseURL       string        `env:"SESSION_BASE_URL"`
	LoginRoute    string        `env:"SESSION_LOGIN_ROUTE" envDefault:"/login"`
	FetchTimeout  time.Duration `env:"SESSION_FETCH_TIMEOUT" envDefault:"8s"`
	LogoutTimeout time.Duration `env:"SESSION_LOGOUT_TIMEOUT" envDefault:"5s"`
	StoragePath   string        `env:"SESSION_STORAGE_PATH"`
}

func (c EnvConfig) GetBaseURL() string              { return c.BaseURL }
func (c EnvConfig) GetLoginRoute() string           { return c.LoginRoute }
func (c EnvConfig) GetFetchTimeout() time.Duration  { return c.FetchTimeout }
func (c EnvConfig) GetLogoutTimeout() time.Duration { return c.LogoutTimeout }
func (c EnvConfig) GetStoragePath() string          { return c.StoragePath }

// LoadConfig reads the session configuration from the environment.
func LoadConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse session environment")
	}
	if cfg.BaseURL == "" {
		return nil, goerrors.New("SESSION_BASE_URL is required", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}
	return cfg, nil
}

// NewManagerFromConfig wires the default stack: an HTTP identity client
// against the configured base URL, a token store over file storage when a
// path is configured (memory otherwise), and a Manager carrying the
// configured timeouts and login route. Extra options are applied last and
// win over the config.
func NewManagerFromConfig(cfg Config, opts ...ManagerOption) *Manager {
	var storage Storage
	if path := cfg.GetStoragePath(); path != "" {
		storage = NewFileStorage(path)
	} else {
		storage = NewMemoryStorage()
	}

	tokens := NewTokenStore(storage)
	svc := NewHTTPIdentityClient(cfg.GetBaseURL())

	managerOpts := []ManagerOption{
		WithFetchTimeout(cfg.GetFetchTimeout()),
		WithLogoutTimeout(cfg.GetLogoutTimeout()),
		WithLoginRoute(cfg.GetLoginRoute()),
	}
	managerOpts = append(managerOpts, opts...)

	return NewManager(svc, tokens, managerOpts...)
}
