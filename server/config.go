package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Hardcoded flow defaults
const (
	DefaultPKCECookieTTL   = 10 * time.Minute
	DefaultResultCookieTTL = 60 * time.Second
	DefaultSessionTTL      = 30 * 24 * time.Hour
	DefaultRequestTimeout  = 30 * time.Second
	DefaultRefreshTimeout  = 15 * time.Second
)

// DefaultScopes are requested from the identity provider when none are configured.
var DefaultScopes = []string{"openid", "email", "profile"}

var validate = validator.New()

// Config captures the full application configuration loaded from YAML and environment variables.
type Config struct {
	Server     ServerConfig     `yaml:"server" envPrefix:"SERVER_"`
	Provider   ProviderConfig   `yaml:"provider" envPrefix:"PROVIDER_"`
	Backend    BackendConfig    `yaml:"backend" envPrefix:"BACKEND_"`
	Storage    StorageConfig    `yaml:"storage" envPrefix:"STORAGE_"`
	DevBackend DevBackendConfig `yaml:"dev_backend" envPrefix:"DEV_BACKEND_"`
}

// ServerConfig controls listener, TLS, and cookie concerns.
type ServerConfig struct {
	PublicURL         string        `yaml:"public_url" env:"PUBLIC_URL" validate:"required,url"`
	DevListenAddr     string        `yaml:"dev_listen_addr" env:"DEV_LISTEN_ADDR"`
	HTTPListenAddr    string        `yaml:"http_listen_addr" env:"HTTP_LISTEN_ADDR"`
	HTTPSListenAddr   string        `yaml:"https_listen_addr" env:"HTTPS_LISTEN_ADDR"`
	DevMode           bool          `yaml:"dev_mode" env:"DEV_MODE"`
	CookieDomain      string        `yaml:"cookie_domain" env:"COOKIE_DOMAIN"`
	SessionSigningKey string        `yaml:"session_signing_key" env:"SESSION_SIGNING_KEY"`
	SessionTTL        time.Duration `yaml:"session_ttl" env:"SESSION_TTL" validate:"gte=0"`
	SecretsPath       string        `yaml:"secrets_path" env:"SECRETS_PATH"`
	TLS               TLSConfig     `yaml:"tls" envPrefix:"TLS_"`
}

// TLSConfig defines autocert behaviour and TLS constraints.
type TLSConfig struct {
	Domains    []string `yaml:"domains" env:"DOMAINS" envSeparator:","`
	Email      string   `yaml:"email" env:"EMAIL"`
	MinVersion string   `yaml:"min_version" env:"MIN_VERSION" validate:"omitempty,oneof=1.2 1.3"`
	HSTSMaxAge int      `yaml:"hsts_max_age" env:"HSTS_MAX_AGE" validate:"gte=0"`
}

// ProviderConfig describes the upstream identity provider. When Issuer is
// set the endpoints are discovered; otherwise AuthURL/TokenURL are used,
// defaulting to Google.
type ProviderConfig struct {
	Issuer       string   `yaml:"issuer" env:"ISSUER" validate:"omitempty,url"`
	AuthURL      string   `yaml:"auth_url" env:"AUTH_URL" validate:"omitempty,url"`
	TokenURL     string   `yaml:"token_url" env:"TOKEN_URL" validate:"omitempty,url"`
	ClientID     string   `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret string   `yaml:"client_secret" env:"CLIENT_SECRET"`
	Scopes       []string `yaml:"scopes" env:"SCOPES" envSeparator:","`
}

// BackendConfig points at the dashboard REST backend.
type BackendConfig struct {
	APIBase        string        `yaml:"api_base" env:"API_BASE" validate:"required,url"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT" validate:"gte=0"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout" env:"REFRESH_TIMEOUT" validate:"gte=0"`
}

// StorageConfig locates the durable session store.
type StorageConfig struct {
	Path string `yaml:"path" env:"PATH" validate:"required"`
}

// DevBackendConfig enables a stand-in for the backend identity endpoints.
type DevBackendConfig struct {
	Enabled    bool          `yaml:"enabled" env:"ENABLED"`
	SigningKey string        `yaml:"signing_key" env:"SIGNING_KEY"`
	AccessTTL  time.Duration `yaml:"access_ttl" env:"ACCESS_TTL" validate:"gte=0"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		sanitized := stripYAMLComments(b)

		decoder := yaml.NewDecoder(bytes.NewReader(sanitized))
		decoder.KnownFields(true)

		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
				slog.Error("Configuration contains unknown keys", "error", err, "file", path)
				return Config{}, fmt.Errorf("invalid config: %w (check for typos or deprecated fields)", err)
			}
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		slog.Error("Failed to apply environment overrides", "error", err)
		return Config{}, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:3000",
			DevListenAddr:   "127.0.0.1:3000",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			SessionTTL:      DefaultSessionTTL,
			SecretsPath:     ".secrets",
			TLS: TLSConfig{
				Domains:    []string{"localhost"},
				MinVersion: "1.2",
				HSTSMaxAge: 31536000,
			},
		},
		Provider: ProviderConfig{
			Scopes: append([]string(nil), DefaultScopes...),
		},
		Backend: BackendConfig{
			APIBase:        "http://localhost:8000/api",
			RequestTimeout: DefaultRequestTimeout,
			RefreshTimeout: DefaultRefreshTimeout,
		},
		Storage: StorageConfig{
			Path: ".secrets/sessions.db",
		},
		DevBackend: DevBackendConfig{
			AccessTTL: time.Hour,
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func (c *Config) applyDefaults() {
	c.Server.PublicURL = strings.TrimSuffix(c.Server.PublicURL, "/")
	c.Backend.APIBase = strings.TrimSuffix(c.Backend.APIBase, "/")
	if len(c.Provider.Scopes) == 0 {
		c.Provider.Scopes = append([]string(nil), DefaultScopes...)
	}
	if c.Server.SessionTTL == 0 {
		c.Server.SessionTTL = DefaultSessionTTL
	}
	if c.DevBackend.AccessTTL == 0 {
		c.DevBackend.AccessTTL = time.Hour
	}
}

func stripYAMLComments(in []byte) []byte {
	lines := bytes.Split(in, []byte("\n"))
	out := make([][]byte, 0, len(lines))
	for _, line := range lines {
		trim := bytes.TrimLeft(line, " \t")
		if len(trim) > 0 && trim[0] == '#' {
			continue
		}
		out = append(out, line)
	}
	return bytes.Join(out, []byte("\n"))
}

// applyEnvOverrides layers HANI_* variables over the file values. Unset
// variables leave the current value alone.
func applyEnvOverrides(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "HANI_"}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Secure reports whether cookies must carry the Secure attribute.
func (c Config) Secure() bool {
	return strings.HasPrefix(c.Server.PublicURL, "https://")
}

// RedirectURI is the provider callback registered for this gateway.
func (c Config) RedirectURI() string {
	return c.Server.PublicURL + "/api/auth/google/callback"
}

// Validate performs sanity checks on the config.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			slog.Error("Invalid configuration value", "field", fe.Namespace(), "rule", fe.Tag(), "value", fe.Value())
			return fmt.Errorf("config %s failed %q validation", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("validate config: %w", err)
	}

	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		slog.Error("Invalid configuration value", "field", "server.public_url", "value", c.Server.PublicURL, "reason", "must start with http:// or https://")
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}

	if !c.Server.DevMode {
		if len(c.Server.TLS.Domains) == 0 {
			slog.Error("Missing required configuration for production mode", "field", "server.tls.domains")
			return errors.New("server.tls.domains must be provided in production")
		}
		if c.Server.SessionSigningKey == "" {
			slog.Error("Missing required configuration for production mode", "field", "server.session_signing_key")
			return errors.New("server.session_signing_key is required in production")
		}
		if c.Provider.ClientID == "" {
			slog.Error("Missing required configuration for production mode", "field", "provider.client_id")
			return errors.New("provider.client_id is required in production")
		}
		if c.DevBackend.Enabled {
			slog.Error("Invalid configuration value", "field", "dev_backend.enabled", "reason", "dev backend is only available in dev mode")
			return errors.New("dev_backend.enabled requires server.dev_mode")
		}
	}

	if c.Server.SessionSigningKey != "" && len(c.Server.SessionSigningKey) < 32 {
		slog.Error("Invalid configuration value", "field", "server.session_signing_key", "reason", "must be at least 32 bytes")
		return errors.New("server.session_signing_key must be at least 32 bytes")
	}

	if (c.Provider.AuthURL == "") != (c.Provider.TokenURL == "") {
		slog.Error("Incomplete provider endpoints", "auth_url", c.Provider.AuthURL, "token_url", c.Provider.TokenURL)
		return errors.New("provider.auth_url and provider.token_url must be set together")
	}

	if c.Server.CookieDomain != "" {
		u, err := url.Parse(c.Server.PublicURL)
		if err != nil {
			return fmt.Errorf("parse server.public_url: %w", err)
		}
		host := u.Hostname()
		cookieDomain := strings.TrimPrefix(c.Server.CookieDomain, ".")
		if !strings.HasSuffix(host, cookieDomain) {
			slog.Error("Cookie domain mismatch",
				"field", "server.cookie_domain",
				"cookie_domain", c.Server.CookieDomain,
				"public_url_domain", host,
				"reason", "cookie_domain must be a suffix of public_url domain")
			return fmt.Errorf("server.cookie_domain '%s' does not match server.public_url domain '%s'", c.Server.CookieDomain, host)
		}
	}

	return nil
}
