package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/extendhq/extend-mcp-server-go/internal/jsonrpc"
	"github.com/extendhq/extend-mcp-server-go/internal/logctx"
)

const (
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"
)

// ErrorWriter renders an authentication or backend failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Option configures Middleware.
type Option func(*middlewareConfig)

type middlewareConfig struct {
	realm       string
	logger      *slog.Logger
	errorWriter ErrorWriter
}

// WithRealm sets the realm advertised in WWW-Authenticate challenges.
// Default: "MCP Server".
func WithRealm(realm string) Option {
	return func(c *middlewareConfig) { c.realm = realm }
}

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *middlewareConfig) { c.logger = l }
}

// WithErrorWriter replaces the default JSON-RPC error rendering.
func WithErrorWriter(fn ErrorWriter) Option {
	return func(c *middlewareConfig) { c.errorWriter = fn }
}

// Middleware authenticates every request with authn. On success the
// UserContext is attached to the request context for the duration of the
// wrapped handler and cleared afterwards, including when the handler panics.
func Middleware(authn Authenticator, opts ...Option) func(http.Handler) http.Handler {
	cfg := middlewareConfig{
		realm:       DefaultRealm,
		logger:      slog.New(slog.DiscardHandler),
		errorWriter: WriteJSONRPCError,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var (
				uc  *UserContext
				err error
			)
			if tok, ok := BearerToken(r); ok {
				uc, err = authn.CheckAuthentication(ctx, tok)
				if err == nil && uc == nil {
					err = ErrUnauthorized
				}
			} else {
				err = ErrUnauthorized
			}

			if err != nil {
				if errors.Is(err, ErrUnauthorized) {
					cfg.logger.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
					cfg.errorWriter(w, r, NewAuthenticationRequired(cfg.realm, ResourceMetadataURL(r), err))
					return
				}
				cfg.logger.ErrorContext(ctx, "auth.check.error", slog.String("err", err.Error()))
				cfg.errorWriter(w, r, err)
				return
			}

			defer uc.Clear()

			ctx = WithUserContext(ctx, uc)
			ctx = logctx.WithUserData(ctx, &logctx.UserData{Email: uc.Email})
			cfg.logger.DebugContext(ctx, "auth.check.ok")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StaticUser attaches a copy of uc to every request. It serves the static
// API-key mode where no bearer token is involved.
func StaticUser(uc UserContext) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := uc
			defer req.Clear()

			ctx := WithUserContext(r.Context(), &req)
			ctx = logctx.WithUserData(ctx, &logctx.UserData{Email: req.Email})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get(authorizationHeader)
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", false
	}
	return tok, true
}

// WriteJSONRPCError is the default ErrorWriter. Authentication failures are
// answered with 401, the challenge header and a JSON-RPC error whose data
// repeats the challenge; anything else is a 500 internal error.
func WriteJSONRPCError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		w.Header().Set(wwwAuthenticateHeader, authErr.WWWAuthenticate)
		writeJSONRPC(w, http.StatusUnauthorized, jsonrpc.NewErrorResponse(nil, authErr.Code, authErr.Message, map[string]string{
			"www_authenticate": authErr.WWWAuthenticate,
		}))
		return
	}
	writeJSONRPC(w, http.StatusInternalServerError, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInternalError, "Internal error", nil))
}

func writeJSONRPC(w http.ResponseWriter, status int, resp *jsonrpc.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
