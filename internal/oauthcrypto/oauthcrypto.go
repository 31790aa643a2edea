// Package oauthcrypto generates the opaque values used by the OAuth 2.1
// authorization-code flow (bearer tokens, authorization codes, PKCE pairs)
// and verifies PKCE challenges. All functions are stateless and safe for
// concurrent use.
package oauthcrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	// BearerTokenPrefix marks tokens minted by this server.
	BearerTokenPrefix = "oauth_"
	// AuthorizationCodePrefix marks authorization codes.
	AuthorizationCodePrefix = "code_"
	// ClientIDPrefix marks dynamically registered client ids.
	ClientIDPrefix = "mcp_client_"

	// MethodS256 is the SHA-256 PKCE transform.
	MethodS256 = "S256"
	// MethodPlain is the identity PKCE transform.
	MethodPlain = "plain"
)

// ErrUnsupportedMethod is returned for PKCE methods other than S256 and plain.
var ErrUnsupportedMethod = errors.New("oauthcrypto: unsupported PKCE method")

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateBearerToken returns a fresh bearer token: 32 random bytes,
// base64url without padding, prefixed with "oauth_".
func GenerateBearerToken() (string, error) {
	s, err := randomString(32)
	if err != nil {
		return "", err
	}
	return BearerTokenPrefix + s, nil
}

// GenerateAuthorizationCode returns a fresh authorization code: 24 random
// bytes, base64url without padding, prefixed with "code_".
func GenerateAuthorizationCode() (string, error) {
	s, err := randomString(24)
	if err != nil {
		return "", err
	}
	return AuthorizationCodePrefix + s, nil
}

// GeneratePKCEVerifier returns a 43 character code verifier (RFC 7636 §4.1).
func GeneratePKCEVerifier() (string, error) {
	return randomString(32)
}

// GenerateState returns an opaque value suitable for the OAuth state parameter.
func GenerateState() (string, error) {
	return randomString(16)
}

// GenerateClientID returns an opaque client identifier for dynamic registration.
func GenerateClientID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return ClientIDPrefix + hex.EncodeToString(b), nil
}

// GeneratePKCEChallenge derives the code challenge for verifier using method.
func GeneratePKCEChallenge(verifier, method string) (string, error) {
	switch method {
	case MethodS256:
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]), nil
	case MethodPlain:
		return verifier, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
}

// VerifyPKCEChallenge reports whether verifier produces challenge under
// method. It never panics; an unsupported method simply fails verification.
func VerifyPKCEChallenge(verifier, challenge, method string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	expected, err := GeneratePKCEChallenge(verifier, method)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(challenge)) == 1
}

// IsSupportedMethod reports whether method is an accepted PKCE method.
func IsSupportedMethod(method string) bool {
	return method == MethodS256 || method == MethodPlain
}
