package oauth

import (
	"net/url"
	"strings"
	"time"

	"github.com/extendhq/extend-mcp-server-go/internal/oauthcrypto"
	"github.com/extendhq/extend-mcp-server-go/internal/wellknown"
)

// Endpoint paths served by the authorization server.
const (
	AuthorizePath = "/authorize"
	CallbackPath  = "/callback"
	TokenPath     = "/token"
	RevokePath    = "/revoke"
	RegisterPath  = "/register"
)

// Config is the OAuth configuration of one deployment.
type Config struct {
	// Issuer is the public base URL of the server, e.g.
	// "https://mcp.example.com". When empty, endpoints are derived from the
	// base URL of each request.
	Issuer string
	// TokenTTLHours is the bearer token lifetime in hours. Default: 24.
	TokenTTLHours int
	// Storage selects and configures the code and token stores.
	Storage StorageConfig
}

// Validate checks the configuration and fills defaults. It returns a
// *ConfigError describing the first problem found.
func (c *Config) Validate() error {
	if c.TokenTTLHours == 0 {
		c.TokenTTLHours = int(DefaultTokenTTL / time.Hour)
	}
	if c.TokenTTLHours < 0 {
		return &ConfigError{Field: "token_ttl_hours", Reason: "must be positive"}
	}
	if c.Issuer != "" {
		u, err := url.Parse(c.Issuer)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &ConfigError{Field: "issuer", Reason: "must be an absolute URL with scheme and host"}
		}
		if u.Scheme != "https" && u.Scheme != "http" {
			return &ConfigError{Field: "issuer", Reason: "scheme must be http or https"}
		}
		if u.RawQuery != "" || u.Fragment != "" {
			return &ConfigError{Field: "issuer", Reason: "must not carry a query or fragment"}
		}
		c.Issuer = strings.TrimRight(c.Issuer, "/")
	}
	return c.Storage.Validate()
}

// TokenTTL returns the bearer token lifetime.
func (c Config) TokenTTL() time.Duration {
	if c.TokenTTLHours <= 0 {
		return DefaultTokenTTL
	}
	return time.Duration(c.TokenTTLHours) * time.Hour
}

// IssuerFor returns the configured issuer, or baseURL when none is set.
func (c Config) IssuerFor(baseURL string) string {
	if c.Issuer != "" {
		return c.Issuer
	}
	return strings.TrimRight(baseURL, "/")
}

// Endpoints are the absolute URLs of the authorization server.
type Endpoints struct {
	Issuer       string
	Authorize    string
	Callback     string
	Token        string
	Revoke       string
	Registration string
}

// Endpoints derives the endpoint URLs, rebased on baseURL when no issuer
// is configured.
func (c Config) Endpoints(baseURL string) Endpoints {
	iss := c.IssuerFor(baseURL)
	return Endpoints{
		Issuer:       iss,
		Authorize:    iss + AuthorizePath,
		Callback:     iss + CallbackPath,
		Token:        iss + TokenPath,
		Revoke:       iss + RevokePath,
		Registration: iss + RegisterPath,
	}
}

// ProtectedResourceMetadata is served at /.well-known/oauth-protected-resource.
func (c Config) ProtectedResourceMetadata(baseURL string) wellknown.ProtectedResourceMetadata {
	ep := c.Endpoints(baseURL)
	return wellknown.ProtectedResourceMetadata{
		AuthorizationServers: []wellknown.AuthorizationServerRef{{
			Issuer:                ep.Issuer,
			AuthorizationEndpoint: ep.Authorize,
		}},
	}
}

// AuthorizationServerMetadata is served at /.well-known/oauth-authorization-server.
func (c Config) AuthorizationServerMetadata(baseURL string) wellknown.AuthorizationServerMetadata {
	ep := c.Endpoints(baseURL)
	return wellknown.AuthorizationServerMetadata{
		Issuer:                            ep.Issuer,
		AuthorizationEndpoint:             ep.Authorize,
		TokenEndpoint:                     ep.Token,
		RegistrationEndpoint:              ep.Registration,
		RevocationEndpoint:                ep.Revoke,
		TokenEndpointAuthMethodsSupported: []string{"none"},
		ScopesSupported:                   []string{DefaultScope},
		ResponseTypesSupported:            []string{"code"},
		ResponseModesSupported:            []string{"query"},
		GrantTypesSupported:               []string{"authorization_code"},
		CodeChallengeMethodsSupported:     []string{oauthcrypto.MethodS256},
	}
}
