package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	OIDC     OIDCConfig
	Ledger   LedgerConfig
	Realtime RealtimeConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"SERVER_PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DatabaseConfig holds database configuration. Driver is one of sqlite3
// (CGO), sqlite (pure Go) or postgres.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DSN    string `env:"DB_DSN" envDefault:"data/ledger.db"`
}

// AuthConfig holds bearer credential configuration.
type AuthConfig struct {
	// AdminKey authorizes the user provisioning endpoint. Empty disables it.
	AdminKey      string        `env:"ADMIN_API_KEY"`
	JWTSecret     string        `env:"JWT_SECRET"`
	TokenDuration time.Duration `env:"JWT_TOKEN_DURATION" envDefault:"168h"`
}

// OIDCConfig holds OIDC login configuration.
type OIDCConfig struct {
	Enabled        bool   `env:"OIDC_ENABLED" envDefault:"false"`
	IssuerURL      string `env:"OIDC_ISSUER_URL"`
	ClientID       string `env:"OIDC_CLIENT_ID"`
	ClientSecret   string `env:"OIDC_CLIENT_SECRET"`
	RedirectURL    string `env:"OIDC_REDIRECT_URL"`
	Scopes         string `env:"OIDC_SCOPES" envDefault:"openid,email,profile"`
	StateSecret    string `env:"OIDC_STATE_SECRET"`
	AllowedDomains string `env:"OIDC_ALLOWED_DOMAINS"`
	SecureCookies  bool   `env:"OIDC_SECURE_COOKIES" envDefault:"true"`
}

// LedgerConfig tunes the session ledger.
type LedgerConfig struct {
	MaxRetries           uint64        `env:"LEDGER_MAX_RETRIES" envDefault:"5"`
	RetryBase            time.Duration `env:"LEDGER_RETRY_BASE" envDefault:"10ms"`
	ReconcileConcurrency int           `env:"LEDGER_RECONCILE_CONCURRENCY" envDefault:"8"`
	PasscodeMinLength    int           `env:"LEDGER_PASSCODE_MIN_LENGTH" envDefault:"4"`
}

// RealtimeConfig controls where session changes come from.
type RealtimeConfig struct {
	// PGNotify listens for session changes over Postgres LISTEN/NOTIFY so
	// writes from every server instance reach local subscribers.
	PGNotify     bool          `env:"REALTIME_PG_NOTIFY" envDefault:"true"`
	MinReconnect time.Duration `env:"REALTIME_MIN_RECONNECT" envDefault:"1s"`
	MaxReconnect time.Duration `env:"REALTIME_MAX_RECONNECT" envDefault:"1m"`
	WriteTimeout time.Duration `env:"REALTIME_WRITE_TIMEOUT" envDefault:"10s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
}

// GetScopes returns the OIDC scopes as a slice.
func (c *OIDCConfig) GetScopes() []string {
	if c.Scopes == "" {
		return []string{"openid", "email", "profile"}
	}
	return splitList(c.Scopes)
}

// GetAllowedDomains returns the allowed email domains as a slice.
func (c *OIDCConfig) GetAllowedDomains() []string {
	if c.AllowedDomains == "" {
		return nil
	}
	return splitList(c.AllowedDomains)
}

// GetStateSecretBytes returns the 32-byte key sealing the OIDC state cookie.
func (c *OIDCConfig) GetStateSecretBytes() ([]byte, error) {
	if c.StateSecret == "" {
		return nil, fmt.Errorf("OIDC_STATE_SECRET is required")
	}
	if len(c.StateSecret) == 64 {
		if decoded, err := hex.DecodeString(c.StateSecret); err == nil {
			return decoded, nil
		}
	}
	if len(c.StateSecret) != 32 {
		return nil, fmt.Errorf("OIDC_STATE_SECRET must be 32 bytes (or 64 hex characters)")
	}
	return []byte(c.StateSecret), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := env.Parse(&cfg.Database); err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if err := env.Parse(&cfg.Auth); err != nil {
		return nil, fmt.Errorf("parsing auth config: %w", err)
	}
	if err := env.Parse(&cfg.OIDC); err != nil {
		return nil, fmt.Errorf("parsing oidc config: %w", err)
	}
	if err := env.Parse(&cfg.Ledger); err != nil {
		return nil, fmt.Errorf("parsing ledger config: %w", err)
	}
	if err := env.Parse(&cfg.Realtime); err != nil {
		return nil, fmt.Errorf("parsing realtime config: %w", err)
	}
	if err := env.Parse(&cfg.Log); err != nil {
		return nil, fmt.Errorf("parsing log config: %w", err)
	}

	return cfg, nil
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "sqlite", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite3, sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.Auth.TokenDuration <= 0 {
		return fmt.Errorf("JWT_TOKEN_DURATION must be positive")
	}

	if c.Ledger.RetryBase <= 0 {
		return fmt.Errorf("LEDGER_RETRY_BASE must be positive")
	}
	if c.Ledger.ReconcileConcurrency < 1 {
		return fmt.Errorf("LEDGER_RECONCILE_CONCURRENCY must be at least 1")
	}
	if c.Ledger.PasscodeMinLength < 1 {
		return fmt.Errorf("LEDGER_PASSCODE_MIN_LENGTH must be at least 1")
	}
	if c.Realtime.MinReconnect <= 0 || c.Realtime.MaxReconnect < c.Realtime.MinReconnect {
		return fmt.Errorf("REALTIME_MIN_RECONNECT must be positive and not above REALTIME_MAX_RECONNECT")
	}

	if c.OIDC.Enabled {
		if c.OIDC.IssuerURL == "" {
			return fmt.Errorf("OIDC_ISSUER_URL is required when OIDC is enabled")
		}
		if c.OIDC.ClientID == "" {
			return fmt.Errorf("OIDC_CLIENT_ID is required when OIDC is enabled")
		}
		if c.OIDC.ClientSecret == "" {
			return fmt.Errorf("OIDC_CLIENT_SECRET is required when OIDC is enabled")
		}
		if c.OIDC.RedirectURL == "" {
			return fmt.Errorf("OIDC_REDIRECT_URL is required when OIDC is enabled")
		}
		if _, err := c.OIDC.GetStateSecretBytes(); err != nil {
			return err
		}
	}

	return nil
}

// UsePGNotify reports whether session changes should come from Postgres
// notifications instead of the in-process store decorator.
func (c *Config) UsePGNotify() bool {
	return c.Database.Driver == "postgres" && c.Realtime.PGNotify
}
