package oauth

import (
	"errors"
	"fmt"
)

// ErrInvalidGrant matches every *GrantError.
var ErrInvalidGrant = errors.New("invalid_grant")

// ErrCodeCollision is returned when a freshly generated authorization code
// is already present in the store.
var ErrCodeCollision = errors.New("oauth: authorization code collision")

// ErrUnknownBackend is returned by OpenStores for an unrecognised backend name.
var ErrUnknownBackend = errors.New("oauth: unknown storage backend")

// Grant failure descriptions returned by ExchangeCodeForToken.
const (
	DescInvalidCode      = "Invalid authorization code"
	DescCodeExpired      = "Authorization code expired"
	DescInvalidVerifier  = "Invalid PKCE code verifier"
	DescClientMismatch   = "Client ID mismatch"
	DescRedirectMismatch = "Redirect URI mismatch"
)

// GrantError is a terminal failure of the authorization-code exchange.
// It is safe to show Description to the client.
type GrantError struct {
	Code        string
	Description string
}

func (e *GrantError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *GrantError) Is(target error) bool { return target == ErrInvalidGrant }

func invalidGrant(desc string) *GrantError {
	return &GrantError{Code: "invalid_grant", Description: desc}
}

// ConfigError reports an invalid OAuth configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("oauth config: %s: %s", e.Field, e.Reason)
}
