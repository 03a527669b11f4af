package remote

import (
	"context"

	"github.com/go-go-golems/chatsync/pkg/security"
	"github.com/pkg/errors"
)

// Settings selects and configures the remote backend.
type Settings struct {
	// Kind is one of none, http, sqlite, mysql or redis.
	Kind   string        `mapstructure:"kind"`
	URL    string        `mapstructure:"url"`
	APIKey string        `mapstructure:"api-key"`
	Gorm   GormSettings  `mapstructure:"gorm"`
	Redis  RedisSettings `mapstructure:"redis"`
	Retry  RetrySettings `mapstructure:"retry"`

	AllowHTTP          bool `mapstructure:"allow-http"`
	AllowLocalNetworks bool `mapstructure:"allow-local-networks"`
}

// Open builds the configured backend. It returns a nil Backend and no error
// for kind "none", which puts the adapter in local-only mode. Retries wrap
// the backend when Retry.Attempts > 0.
func Open(ctx context.Context, s Settings) (Backend, error) {
	var (
		backend Backend
		err     error
	)
	switch s.Kind {
	case "", "none":
		return nil, nil
	case "http":
		if s.URL == "" {
			return nil, errors.Wrap(ErrInvalidInput, "remote url is required for the http backend")
		}
		backend, err = NewClient(s.URL, s.APIKey, security.OutboundURLOptions{
			AllowHTTP:          s.AllowHTTP,
			AllowLocalNetworks: s.AllowLocalNetworks,
		})
	case "sqlite", "mysql":
		gs := s.Gorm
		gs.Driver = s.Kind
		backend, err = OpenGorm(gs)
	case "redis":
		backend, err = OpenRedis(ctx, s.Redis)
	default:
		return nil, errors.Wrapf(ErrInvalidInput, "unknown remote backend kind %q", s.Kind)
	}
	if err != nil {
		return nil, err
	}

	if s.Retry.Attempts > 0 {
		backend = NewRetrying(backend, s.Retry)
	}
	return backend, nil
}

// Close closes backend if it holds resources.
func Close(backend Backend) error {
	if c, ok := backend.(Closer); ok {
		return c.Close()
	}
	return nil
}
