package auth

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/extendhq/extend-mcp-server-go/internal/jsonrpc"
	"github.com/extendhq/extend-mcp-server-go/internal/wellknown"
)

// DefaultRealm is advertised in every challenge unless overridden.
const DefaultRealm = "MCP Server"

// ProtectedResourcePath is where the protected-resource metadata is served.
const ProtectedResourcePath = wellknown.ProtectedResourcePath

// AuthenticationRequiredMessage is the human-readable message carried by
// authentication failures.
const AuthenticationRequiredMessage = "Authentication required"

// AuthenticationError is a structured authentication failure. It carries
// the protocol-level error code and the challenge clients need to discover
// the authorization server.
type AuthenticationError struct {
	Code            jsonrpc.ErrorCode
	Message         string
	WWWAuthenticate string
	Err             error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap allows errors.Is(err, ErrUnauthorized).
func (e *AuthenticationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrUnauthorized
}

// NewAuthenticationRequired builds the failure returned for a missing,
// malformed or invalid bearer token.
func NewAuthenticationRequired(realm, resourceMetadataURL string, cause error) *AuthenticationError {
	return &AuthenticationError{
		Code:            jsonrpc.ErrorCodeAuthenticationRequired,
		Message:         AuthenticationRequiredMessage,
		WWWAuthenticate: BuildBearerChallenge(realm, resourceMetadataURL, nil),
		Err:             cause,
	}
}

// BuildBearerChallenge renders an RFC 6750 Bearer challenge. Parameters are
// ordered realm, resource_metadata, error, error_description, scope and then
// any remaining keys alphabetically.
func BuildBearerChallenge(realm string, resourceMetadata string, params map[string]string) string {
	pieces := make([]string, 0, 2+len(params))
	esc := func(v string) string { return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) }
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	if resourceMetadata != "" {
		pieces = append(pieces, fmt.Sprintf(`resource_metadata="%s"`, esc(resourceMetadata)))
	}
	ordered := []string{"error", "error_description", "scope"}
	for _, k := range ordered {
		if v, ok := params[k]; ok {
			pieces = append(pieces, fmt.Sprintf(`%s="%s"`, k, esc(v)))
		}
	}
	rest := make([]string, 0, len(params))
	for k := range params {
		if k != "error" && k != "error_description" && k != "scope" {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		pieces = append(pieces, fmt.Sprintf(`%s="%s"`, k, esc(params[k])))
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

// RequestScheme returns the scheme the client used, honouring
// X-Forwarded-Proto set by a terminating proxy.
func RequestScheme(r *http.Request) string {
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		p = strings.ToLower(strings.TrimSpace(strings.Split(p, ",")[0]))
		if p == "http" || p == "https" {
			return p
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// BaseURL returns scheme://host for the current request.
func BaseURL(r *http.Request) string {
	return RequestScheme(r) + "://" + r.Host
}

// ResourceMetadataURL returns the protected-resource metadata URL of the
// host the request was addressed to.
func ResourceMetadataURL(r *http.Request) string {
	return BaseURL(r) + ProtectedResourcePath
}
