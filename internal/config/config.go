// Package config handles application configuration from environment variables.
// Every variable is prefixed with BPERKS_.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

const Prefix = "BPERKS_"

// Config holds all application configuration
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Server ServerConfig
	Client ClientConfig
	Tiles  TilesConfig
}

// ServerConfig configures the API and the worker.
type ServerConfig struct {
	Port          string `env:"PORT" envDefault:"8080"`
	DBDriver      string `env:"DB_DRIVER" envDefault:"sqlite"`
	DatabaseURL   string `env:"DATABASE_URL" envDefault:"bperks.db"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Secret        string `env:"SECRET"`
	SMTPAddr      string `env:"SMTP_ADDR"`
	MailFrom      string `env:"MAIL_FROM" envDefault:"no-reply@bperks.local"`
	SecureCookies bool   `env:"SECURE_COOKIES"`
	// TokenTTL bounds bearer tokens handed out at login.
	TokenTTL time.Duration `env:"TOKEN_TTL" envDefault:"720h"`
}

// ClientConfig configures the offline sync client.
type ClientConfig struct {
	BackendURL    string        `env:"BACKEND_URL" envDefault:"http://localhost:8080"`
	Token         string        `env:"TOKEN"`
	UserID        string        `env:"USER_ID"`
	CacheDir      string        `env:"CACHE_DIR"`
	CacheBackend  string        `env:"CACHE_BACKEND" envDefault:"bolt"`
	ProbeInterval time.Duration `env:"PROBE_INTERVAL" envDefault:"15s"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"15s"`
	AlwaysQueue   bool          `env:"ALWAYS_QUEUE"`
}

type TilesConfig struct {
	TTL         time.Duration `env:"TILE_TTL" envDefault:"168h"`
	URL         string        `env:"TILE_URL" envDefault:"https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"`
	Subdomains  []string      `env:"TILE_SUBDOMAINS" envSeparator:"," envDefault:"a,b,c"`
	Concurrency int           `env:"TILE_CONCURRENCY" envDefault:"4"`
	Rate        float64       `env:"TILE_RATE" envDefault:"8"`
	MaxTiles    int           `env:"TILE_MAX" envDefault:"5000"`
	ListenAddr  string        `env:"TILE_LISTEN" envDefault:"127.0.0.1:8723"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: Prefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Client.CacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.Client.CacheDir = filepath.Join(home, ".bperks")
	}
	return cfg, nil
}

// Validate checks settings shared by every binary.
func (c *Config) Validate() error {
	var errs []error
	switch c.Server.DBDriver {
	case "sqlite", "pgx":
	default:
		errs = append(errs, fmt.Errorf("%sDB_DRIVER must be sqlite or pgx, got %q", Prefix, c.Server.DBDriver))
	}
	switch c.Client.CacheBackend {
	case "bolt", "file":
	default:
		errs = append(errs, fmt.Errorf("%sCACHE_BACKEND must be bolt or file, got %q", Prefix, c.Client.CacheBackend))
	}
	if u, err := url.Parse(c.Client.BackendURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("%sBACKEND_URL must be an absolute URL, got %q", Prefix, c.Client.BackendURL))
	}
	if c.Client.ProbeInterval <= 0 {
		errs = append(errs, fmt.Errorf("%sPROBE_INTERVAL must be positive", Prefix))
	}
	if c.Tiles.TTL <= 0 {
		errs = append(errs, fmt.Errorf("%sTILE_TTL must be positive", Prefix))
	}
	if c.Tiles.Concurrency <= 0 || c.Tiles.Rate <= 0 {
		errs = append(errs, fmt.Errorf("%sTILE_CONCURRENCY and %sTILE_RATE must be positive", Prefix, Prefix))
	}
	return errors.Join(errs...)
}

// ValidateServer additionally checks what the API and worker need.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if len(c.Server.Secret) < 16 {
		return fmt.Errorf("%sSECRET must be at least 16 characters", Prefix)
	}
	return nil
}
