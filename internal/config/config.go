// Package config loads the resource server configuration from the
// environment. It is read once at start-up and treated as immutable.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// Introspection modes, in order of precedence.
const (
	ModeTokenFile = "tokenfile"
	ModeRemote    = "remote"
	ModeManual    = "manual"
	ModeDiscovery = "discovery"
)

// Config is the resource server configuration.
type Config struct {
	// Addr is the listen address of the API server. ENV: ADDR
	Addr string `env:"ADDR,default=:8080"`
	// MetricsAddr serves /metrics. Empty disables it. ENV: METRICS_ADDR
	MetricsAddr string `env:"METRICS_ADDR,default=:9090"`
	// PublicURL is the externally visible base URL. It doubles as the expected
	// audience when AUTH_AUDIENCE is unset. ENV: PUBLIC_URL
	PublicURL string `env:"PUBLIC_URL"`

	AuthIssuer           string        `env:"AUTH_ISSUER"`
	AuthAudience         string        `env:"AUTH_AUDIENCE"`
	AuthJWKSURL          string        `env:"AUTH_JWKS_URL"`
	AuthDiscovery        bool          `env:"AUTH_DISCOVERY,default=true"`
	AuthIntrospectionURL string        `env:"AUTH_INTROSPECTION_URL"`
	AuthClientID         string        `env:"AUTH_CLIENT_ID"`
	AuthClientSecret     string        `env:"AUTH_CLIENT_SECRET"`
	AuthTokenFile        string        `env:"AUTH_TOKEN_FILE"`
	AuthScopes           string        `env:"AUTH_SCOPES,default=openid email profile"`
	AuthRequiredScopes   string        `env:"AUTH_REQUIRED_SCOPES"`
	AuthTimeout          time.Duration `env:"AUTH_TIMEOUT,default=5s"`
	AuthLeeway           time.Duration `env:"AUTH_LEEWAY,default=60s"`
	// AuthRequireATJWT enforces the "at+jwt" typ header on JWT access tokens.
	// Disable it for providers that sign access tokens as plain "JWT".
	AuthRequireATJWT bool `env:"AUTH_REQUIRE_AT_JWT,default=true"`

	// RedisAddr selects the Redis revocation list; empty keeps it in memory. ENV: REDIS_ADDR
	RedisAddr            string `env:"REDIS_ADDR"`
	RevocationMaxEntries int    `env:"REVOCATION_MAX_ENTRIES,default=10000"`

	ResourceName string `env:"RESOURCE_NAME,default=mcp-resource-gate"`
	LogLevel     string `env:"LOG_LEVEL,default=info"`
}

// Load decodes the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Mode reports which introspector the configuration selects.
func (c Config) Mode() string {
	switch {
	case c.AuthTokenFile != "":
		return ModeTokenFile
	case c.AuthIntrospectionURL != "":
		return ModeRemote
	case c.AuthJWKSURL != "" || !c.AuthDiscovery:
		return ModeManual
	default:
		return ModeDiscovery
	}
}

// Audience returns the expected token audience.
func (c Config) Audience() string {
	if c.AuthAudience != "" {
		return c.AuthAudience
	}
	return c.PublicURL
}

// Scopes returns the advertised scopes.
func (c Config) Scopes() []string { return strings.Fields(c.AuthScopes) }

// RequiredScopes returns the scopes every token must carry.
func (c Config) RequiredScopes() []string { return strings.Fields(c.AuthRequiredScopes) }

// Level parses LogLevel.
func (c Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("ADDR is required"))
	}
	if c.AuthIssuer == "" {
		errs = append(errs, errors.New("AUTH_ISSUER is required"))
	} else if err := validateURL("AUTH_ISSUER", c.AuthIssuer); err != nil {
		errs = append(errs, err)
	}
	if c.PublicURL != "" {
		if err := validateURL("PUBLIC_URL", c.PublicURL); err != nil {
			errs = append(errs, err)
		}
	}
	switch c.Mode() {
	case ModeRemote:
		if err := validateURL("AUTH_INTROSPECTION_URL", c.AuthIntrospectionURL); err != nil {
			errs = append(errs, err)
		}
		if c.AuthClientSecret != "" && c.AuthClientID == "" {
			errs = append(errs, errors.New("AUTH_CLIENT_ID is required with AUTH_CLIENT_SECRET"))
		}
	case ModeManual:
		if c.AuthJWKSURL == "" {
			errs = append(errs, errors.New("AUTH_JWKS_URL is required when AUTH_DISCOVERY=false"))
		} else if err := validateURL("AUTH_JWKS_URL", c.AuthJWKSURL); err != nil {
			errs = append(errs, err)
		}
	}
	if c.AuthTimeout <= 0 {
		errs = append(errs, errors.New("AUTH_TIMEOUT must be positive"))
	}
	if c.AuthLeeway < 0 {
		errs = append(errs, errors.New("AUTH_LEEWAY must not be negative"))
	}
	if c.RevocationMaxEntries <= 0 {
		errs = append(errs, errors.New("REVOCATION_MAX_ENTRIES must be positive"))
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	return errors.Join(errs...)
}

func validateURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", name, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host, got %q", name, raw)
	}
	return nil
}
