// Package config loads server settings from the environment.
//
// Values are read from process environment variables (optionally seeded from
// a .env file) into Config via envdecode struct tags. Command-line flags are
// applied on top by the caller before Validate is run.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/extendhq/extend-mcp-server-go/extendapi"
	"github.com/extendhq/extend-mcp-server-go/oauth"
	"github.com/extendhq/extend-mcp-server-go/tools"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// APIKeyPrefix is the prefix carried by every Extend API key.
const APIKeyPrefix = "apik_"

// Auth modes.
const (
	ModeOAuth  = "oauth"
	ModeAPIKey = "api-key"
)

// Config holds every setting of a running server.
type Config struct {
	Host string `env:"MCP_HOST,default=0.0.0.0"`
	Port int    `env:"MCP_PORT,default=8000"`

	// AuthMode is "oauth" for per-user OAuth or "api-key" for a single
	// static Extend credential. Empty picks "api-key" when EXTEND_API_KEY is
	// set and "oauth" otherwise.
	AuthMode string `env:"MCP_AUTH_MODE"`

	Issuer           string `env:"MCP_OAUTH_ISSUER"`
	TokenExpiryHours int    `env:"MCP_TOKEN_EXPIRY_HOURS,default=24"`
	EncryptionKey    string `env:"MCP_OAUTH_ENCRYPTION_KEY"`

	// StorageBackend is "file", "redis" or "memory". The file backend is not
	// safe to share between server instances.
	StorageBackend string `env:"MCP_STORAGE_BACKEND"`
	TokenStorePath string `env:"MCP_TOKEN_STORE_PATH,default=mcp_tokens.json"`
	CodeStorePath  string `env:"MCP_CODE_STORE_PATH,default=mcp_auth_codes.json"`
	RedisAddr      string `env:"REDIS_ADDR"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB,default=0"`
	RedisKeyPrefix string `env:"MCP_REDIS_KEY_PREFIX,default=extend-mcp:"`

	APIKey     string `env:"EXTEND_API_KEY"`
	APISecret  string `env:"EXTEND_API_SECRET"`
	APIBaseURL string `env:"EXTEND_API_BASE_URL,default=https://apiv2.paywithextend.com"`

	Tools        string `env:"MCP_TOOLS,default=all"`
	RateLimitRPM int    `env:"MCP_RATE_LIMIT_RPM,default=60"`

	// TrustForwardedFor keys rate limits on X-Forwarded-For. Only enable it
	// behind a proxy that overwrites the header.
	TrustForwardedFor bool `env:"MCP_TRUST_FORWARDED_FOR,default=false"`

	CleanupInterval time.Duration `env:"MCP_CLEANUP_INTERVAL,default=1h"`

	permissions tools.Permissions
}

// Error reports an invalid setting.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Load reads .env files (when present) and the environment. The returned
// Config has not been validated.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && len(envFiles) > 0 {
		return nil, fmt.Errorf("config: loading env files: %w", err)
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("config: decoding environment: %w", err)
	}
	return &cfg, nil
}

// Mode returns the resolved auth mode.
func (c *Config) Mode() string {
	m := strings.ToLower(strings.TrimSpace(c.AuthMode))
	if m != "" {
		return m
	}
	if c.APIKey != "" {
		return ModeAPIKey
	}
	return ModeOAuth
}

// Validate checks the settings for the resolved mode. It returns a *Error
// for the first problem found.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return &Error{Field: "MCP_PORT", Reason: "must be between 1 and 65535"}
	}

	switch c.Mode() {
	case ModeAPIKey:
		if c.APIKey == "" {
			return &Error{Field: "EXTEND_API_KEY", Reason: "required in api-key mode"}
		}
		if !strings.HasPrefix(c.APIKey, APIKeyPrefix) {
			return &Error{Field: "EXTEND_API_KEY", Reason: "must start with " + APIKeyPrefix}
		}
		if c.APISecret == "" {
			return &Error{Field: "EXTEND_API_SECRET", Reason: "required in api-key mode"}
		}
	case ModeOAuth:
		if c.Issuer == "" {
			return &Error{Field: "MCP_OAUTH_ISSUER", Reason: "required in oauth mode"}
		}
		oc := c.OAuth()
		if err := oc.Validate(); err != nil {
			var ce *oauth.ConfigError
			if errors.As(err, &ce) {
				return &Error{Field: ce.Field, Reason: ce.Reason}
			}
			return &Error{Field: "MCP_STORAGE_BACKEND", Reason: err.Error()}
		}
	default:
		return &Error{Field: "MCP_AUTH_MODE", Reason: fmt.Sprintf("unknown mode %q", c.AuthMode)}
	}

	perms, err := tools.ParsePermissions(c.Tools)
	if err != nil {
		return &Error{Field: "MCP_TOOLS", Reason: err.Error()}
	}
	c.permissions = perms

	if c.RateLimitRPM < 0 {
		return &Error{Field: "MCP_RATE_LIMIT_RPM", Reason: "must not be negative"}
	}
	if c.CleanupInterval < 0 {
		return &Error{Field: "MCP_CLEANUP_INTERVAL", Reason: "must not be negative"}
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Permissions returns the tool permissions parsed by Validate.
func (c *Config) Permissions() tools.Permissions {
	return c.permissions
}

// OAuth derives the authorization server configuration.
func (c *Config) OAuth() oauth.Config {
	return oauth.Config{
		Issuer:        c.Issuer,
		TokenTTLHours: c.TokenExpiryHours,
		Storage: oauth.StorageConfig{
			Backend:   c.StorageBackend,
			TokenPath: c.TokenStorePath,
			CodePath:  c.CodeStorePath,
			Redis: oauth.RedisConfig{
				Addr:      c.RedisAddr,
				Password:  c.RedisPassword,
				DB:        c.RedisDB,
				KeyPrefix: c.RedisKeyPrefix,
			},
		},
	}
}

// ClientOptions configures the Extend API client.
func (c *Config) ClientOptions() []extendapi.ClientOption {
	var opts []extendapi.ClientOption
	if c.APIBaseURL != "" {
		opts = append(opts, extendapi.WithBaseURL(c.APIBaseURL))
	}
	return opts
}
