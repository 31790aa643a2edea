package oauth

import (
	"time"

	"github.com/extendhq/extend-mcp-server-go/storage"
)

// AuthorizationCodeTTL is the fixed lifetime of an authorization code.
const AuthorizationCodeTTL = 10 * time.Minute

// AuthorizationCode is a single-use grant issued after the end user submits
// their credentials. The credential fields hold sealed values.
type AuthorizationCode struct {
	Code                string    `json:"code"`
	UserEmail           string    `json:"user_email"`
	CredentialKey       string    `json:"extend_api_key"`
	CredentialSecret    string    `json:"extend_api_secret"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"`
	ClientID            string    `json:"client_id,omitempty"`
	RedirectURI         string    `json:"redirect_uri,omitempty"`
	State               string    `json:"state,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
}

func (c *AuthorizationCode) StoreKey() string  { return c.Code }
func (c *AuthorizationCode) Expiry() time.Time { return c.ExpiresAt }

// Expired reports whether the code can no longer be exchanged at now.
func (c *AuthorizationCode) Expired(now time.Time) bool { return storage.IsExpired(c, now) }

// BearerToken maps an issued access token to the end user's sealed
// downstream credentials.
type BearerToken struct {
	Token            string    `json:"token"`
	UserEmail        string    `json:"user_email"`
	CredentialKey    string    `json:"extend_api_key"`
	CredentialSecret string    `json:"extend_api_secret"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

func (t *BearerToken) StoreKey() string  { return t.Token }
func (t *BearerToken) Expiry() time.Time { return t.ExpiresAt }

// Expired reports whether the token is no longer valid at now.
func (t *BearerToken) Expired(now time.Time) bool { return storage.IsExpired(t, now) }

// CodeStore persists authorization codes.
type CodeStore = storage.Store[*AuthorizationCode]

// TokenStore persists bearer tokens.
type TokenStore = storage.Store[*BearerToken]
