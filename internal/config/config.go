package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Directory backends the service can run against.
const (
	DirectoryPostgres = "postgres"
	DirectoryAdmin    = "admin"
)

type Config struct {
	AppPort string `env:"APP_PORT" envDefault:"8080"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`

	KakaoClientID     string `env:"KAKAO_CLIENT_ID"`
	KakaoClientSecret string `env:"KAKAO_CLIENT_SECRET"`
	KakaoRedirectURL  string `env:"KAKAO_REDIRECT_URL"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	// DirectoryMode selects the identity directory backend:
	// "postgres" for the self-hosted store, "admin" for a hosted
	// directory reached through its admin API.
	DirectoryMode       string `env:"DIRECTORY_MODE" envDefault:"postgres"`
	DatabaseDSN         string `env:"DATABASE_DSN"`
	DirectoryBaseURL    string `env:"DIRECTORY_BASE_URL"`
	DirectoryAdminToken string `env:"DIRECTORY_ADMIN_TOKEN"`

	// SessionRedirectURL is where directory session assertions point;
	// the opaque token is extracted from its query string.
	SessionRedirectURL string `env:"SESSION_REDIRECT_URL" envDefault:"http://localhost:8080/auth/complete"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	switch cfg.DirectoryMode {
	case DirectoryPostgres:
		if cfg.DatabaseDSN == "" {
			return Config{}, fmt.Errorf("config: DATABASE_DSN required for postgres directory")
		}
	case DirectoryAdmin:
		if cfg.DirectoryBaseURL == "" || cfg.DirectoryAdminToken == "" {
			return Config{}, fmt.Errorf("config: DIRECTORY_BASE_URL and DIRECTORY_ADMIN_TOKEN required for admin directory")
		}
	default:
		return Config{}, fmt.Errorf("config: unknown DIRECTORY_MODE %q", cfg.DirectoryMode)
	}

	return cfg, nil
}
