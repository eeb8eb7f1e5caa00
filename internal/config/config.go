// ABOUTME: Configuration loading and parsing for agentdeck
// ABOUTME: Supports YAML files with environment variable expansion and env overrides

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete agentdeck configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Auth    AuthConfig    `yaml:"auth"`
	OAuth   OAuthConfig   `yaml:"oauth"`
	Share   ShareConfig   `yaml:"share"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig holds listener configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// BackendConfig locates the agent backend all proxied requests go to.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
}

// AuthConfig holds session cipher and login behavior configuration.
type AuthConfig struct {
	// CipherKey is a hex-encoded 32-byte key (exactly 64 hex characters).
	// When set it takes precedence over CookiePassphrase.
	CipherKey string `yaml:"cipher_key"`

	// CookiePassphrase is stretched with Argon2id into the cookie key when
	// no static key is configured.
	CookiePassphrase string `yaml:"cookie_passphrase"`

	// SkipValidation disables the backend pre-validation call at login.
	SkipValidation bool `yaml:"skip_validation"`

	// SingleProfile tells the web shell to hide the profile switcher.
	SingleProfile bool `yaml:"single_profile"`

	SessionLifetime time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	SessionLifetimeRaw string `yaml:"session_lifetime"`
}

// OAuthConfig holds the optional OAuth provider registration. All-empty
// disables the OAuth login path entirely.
type OAuthConfig struct {
	AuthorizeURL string `yaml:"authorize_url"`
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`
}

// ShareConfig holds the share-link signing secret. Empty disables share links.
type ShareConfig struct {
	Secret string `yaml:"secret"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses raw YAML configuration bytes, applying environment expansion,
// AGENTDECK_* overrides, defaults, and validation.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnvOverrides lets container deployments override file values without
// editing the file itself.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AGENTDECK_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("AGENTDECK_CIPHER_KEY"); v != "" {
		c.Auth.CipherKey = v
	}
	if v := os.Getenv("AGENTDECK_SINGLE_PROFILE"); v != "" {
		c.Auth.SingleProfile = v == "true" || v == "1"
	}
	if v := os.Getenv("AGENTDECK_SKIP_VALIDATION"); v != "" {
		c.Auth.SkipValidation = v == "true" || v == "1"
	}
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":3284"
	}
	if c.Auth.SessionLifetime == 0 {
		c.Auth.SessionLifetime = 24 * time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.base_url must be an absolute URL, got %q", c.Backend.BaseURL)
	}

	if c.Auth.CipherKey == "" && c.Auth.CookiePassphrase == "" {
		return fmt.Errorf("auth.cipher_key or auth.cookie_passphrase is required")
	}
	if c.Auth.CipherKey != "" && len(c.Auth.CipherKey) != 64 {
		return fmt.Errorf("auth.cipher_key must be exactly 64 hex characters, got %d", len(c.Auth.CipherKey))
	}

	// OAuth is optional but must be configured as a unit.
	set := 0
	for _, f := range []string{c.OAuth.AuthorizeURL, c.OAuth.TokenURL, c.OAuth.ClientID} {
		if f != "" {
			set++
		}
	}
	if set > 0 && set < 3 {
		return fmt.Errorf("oauth requires authorize_url, token_url, and client_id together")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Auth.SessionLifetimeRaw != "" {
		d, err := time.ParseDuration(cfg.Auth.SessionLifetimeRaw)
		if err != nil {
			return fmt.Errorf("parsing session_lifetime %q: %w", cfg.Auth.SessionLifetimeRaw, err)
		}
		cfg.Auth.SessionLifetime = d
	}
	return nil
}
