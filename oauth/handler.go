// Package oauth implements the authorization-code grant with PKCE: issuing
// single-use authorization codes, exchanging them for opaque bearer tokens,
// validating and revoking those tokens and sweeping expired records.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/extendhq/extend-mcp-server-go/auth"
	"github.com/extendhq/extend-mcp-server-go/credentials"
	"github.com/extendhq/extend-mcp-server-go/internal/oauthcrypto"
	"github.com/extendhq/extend-mcp-server-go/storage"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTokenTTL is the bearer token lifetime when none is configured.
	DefaultTokenTTL = 24 * time.Hour
	// DefaultScope is the only scope this server grants.
	DefaultScope = "mcp"
	// TokenTypeBearer is the token_type of every issued token.
	TokenTypeBearer = "Bearer"
)

// CodeRequest carries what GenerateAuthorizationCode needs to mint a code.
// Credentials are given in plaintext and sealed before being stored.
type CodeRequest struct {
	UserEmail           string
	Credentials         auth.Credentials
	CodeChallenge       string
	CodeChallengeMethod string
	ClientID            string
	RedirectURI         string
	State               string
}

// ExchangeRequest is a token request for the authorization_code grant.
// ClientID and RedirectURI are optional; when given they must match the
// values bound to the code.
type ExchangeRequest struct {
	Code         string
	CodeVerifier string
	ClientID     string
	RedirectURI  string
}

// TokenResponse is the successful token endpoint payload.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

// CleanupResult reports how many records a sweep removed.
type CleanupResult struct {
	TokensCleaned int `json:"tokens_cleaned"`
	CodesCleaned  int `json:"codes_cleaned"`
}

// Option configures a Handler.
type Option func(*Handler)

// WithTokenTTL sets the bearer token lifetime. Non-positive values are ignored.
func WithTokenTTL(ttl time.Duration) Option {
	return func(h *Handler) {
		if ttl > 0 {
			h.tokenTTL = ttl
		}
	}
}

// WithCipher sets the cipher used to seal stored credentials.
func WithCipher(c credentials.Cipher) Option {
	return func(h *Handler) { h.cipher = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithScope overrides the scope reported in token responses.
func WithScope(scope string) Option {
	return func(h *Handler) { h.scope = scope }
}

// Handler drives the authorization-code grant. It holds no per-request
// state and is safe for concurrent use.
type Handler struct {
	codes  CodeStore
	tokens TokenStore

	cipher   credentials.Cipher
	tokenTTL time.Duration
	scope    string
	now      func() time.Time
	log      *slog.Logger
}

// NewHandler creates a Handler over the given stores. Without WithCipher a
// random per-process key is used, so sealed credentials do not survive a
// restart.
func NewHandler(codes CodeStore, tokens TokenStore, opts ...Option) (*Handler, error) {
	if codes == nil || tokens == nil {
		return nil, errors.New("oauth: code and token stores are required")
	}
	h := &Handler{
		codes:    codes,
		tokens:   tokens,
		tokenTTL: DefaultTokenTTL,
		scope:    DefaultScope,
		now:      time.Now,
		log:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.cipher == nil {
		c, err := credentials.NewRandomAEAD()
		if err != nil {
			return nil, fmt.Errorf("oauth: creating credential cipher: %w", err)
		}
		h.cipher = c
	}
	return h, nil
}

// TokenTTL returns the configured bearer token lifetime.
func (h *Handler) TokenTTL() time.Duration { return h.tokenTTL }

// GenerateAuthorizationCode seals the user's credentials and stores a new
// authorization code valid for AuthorizationCodeTTL.
func (h *Handler) GenerateAuthorizationCode(ctx context.Context, req CodeRequest) (string, error) {
	method := req.CodeChallengeMethod
	if method == "" {
		method = oauthcrypto.MethodS256
	}
	if !oauthcrypto.IsSupportedMethod(method) {
		return "", fmt.Errorf("%w: %q", oauthcrypto.ErrUnsupportedMethod, method)
	}

	sealedKey, err := h.cipher.Seal(req.Credentials.APIKey)
	if err != nil {
		return "", fmt.Errorf("oauth: sealing credentials: %w", err)
	}
	sealedSecret, err := h.cipher.Seal(req.Credentials.APISecret)
	if err != nil {
		return "", fmt.Errorf("oauth: sealing credentials: %w", err)
	}

	code, err := oauthcrypto.GenerateAuthorizationCode()
	if err != nil {
		return "", err
	}
	if _, exists, err := h.codes.Get(ctx, code); err != nil {
		return "", err
	} else if exists {
		return "", ErrCodeCollision
	}

	now := h.now()
	rec := &AuthorizationCode{
		Code:                code,
		UserEmail:           req.UserEmail,
		CredentialKey:       sealedKey,
		CredentialSecret:    sealedSecret,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		State:               req.State,
		CreatedAt:           now,
		ExpiresAt:           now.Add(AuthorizationCodeTTL),
	}
	if err := h.codes.Store(ctx, rec); err != nil {
		return "", err
	}

	h.log.InfoContext(ctx, "oauth.code.issued",
		slog.String("code", storage.Redact(code)),
		slog.String("client_id", req.ClientID),
	)
	return code, nil
}

// ExchangeCodeForToken redeems an authorization code for a bearer token.
// Validation failures are *GrantError values matching ErrInvalidGrant; any
// other error is a storage or internal failure.
//
// The code is claimed by deleting it before the token is stored. Among
// concurrent exchanges of the same code only the caller whose delete removed
// it succeeds; the others see an invalid code.
func (h *Handler) ExchangeCodeForToken(ctx context.Context, req ExchangeRequest) (*TokenResponse, error) {
	log := h.log.With(slog.String("code", storage.Redact(req.Code)))

	rec, status, err := h.codes.Lookup(ctx, req.Code)
	if err != nil {
		return nil, err
	}
	switch {
	case status == storage.Absent:
		log.InfoContext(ctx, "oauth.exchange.fail", slog.String("reason", DescInvalidCode))
		return nil, invalidGrant(DescInvalidCode)
	case status == storage.Expired:
		log.InfoContext(ctx, "oauth.exchange.fail", slog.String("reason", DescCodeExpired))
		return nil, invalidGrant(DescCodeExpired)
	case rec.Expired(h.now()):
		if _, err := h.codes.Delete(ctx, req.Code); err != nil {
			return nil, err
		}
		log.InfoContext(ctx, "oauth.exchange.fail", slog.String("reason", DescCodeExpired))
		return nil, invalidGrant(DescCodeExpired)
	}
	if !oauthcrypto.VerifyPKCEChallenge(req.CodeVerifier, rec.CodeChallenge, rec.CodeChallengeMethod) {
		log.InfoContext(ctx, "oauth.exchange.fail", slog.String("reason", DescInvalidVerifier))
		return nil, invalidGrant(DescInvalidVerifier)
	}
	if req.ClientID != "" && rec.ClientID != "" && req.ClientID != rec.ClientID {
		log.InfoContext(ctx, "oauth.exchange.fail", slog.String("reason", DescClientMismatch))
		return nil, invalidGrant(DescClientMismatch)
	}
	if req.RedirectURI != "" && rec.RedirectURI != "" && req.RedirectURI != rec.RedirectURI {
		log.InfoContext(ctx, "oauth.exchange.fail", slog.String("reason", DescRedirectMismatch))
		return nil, invalidGrant(DescRedirectMismatch)
	}

	claimed, err := h.codes.Delete(ctx, req.Code)
	if err != nil {
		return nil, err
	}
	if !claimed {
		log.InfoContext(ctx, "oauth.exchange.fail", slog.String("reason", "code already redeemed"))
		return nil, invalidGrant(DescInvalidCode)
	}

	token, err := oauthcrypto.GenerateBearerToken()
	if err != nil {
		return nil, err
	}
	now := h.now()
	if err := h.tokens.Store(ctx, &BearerToken{
		Token:            token,
		UserEmail:        rec.UserEmail,
		CredentialKey:    rec.CredentialKey,
		CredentialSecret: rec.CredentialSecret,
		CreatedAt:        now,
		ExpiresAt:        now.Add(h.tokenTTL),
	}); err != nil {
		return nil, err
	}

	log.InfoContext(ctx, "oauth.exchange.ok",
		slog.String("token", storage.Redact(token)),
		slog.String("client_id", rec.ClientID),
	)
	return &TokenResponse{
		AccessToken: token,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(h.tokenTTL / time.Second),
		Scope:       h.scope,
	}, nil
}

// ValidateBearerToken resolves tok to the user it was issued for. It returns
// (nil, nil) for a token that is empty, foreign, unknown or expired; expired
// tokens are deleted. A non-nil error means the store failed.
func (h *Handler) ValidateBearerToken(ctx context.Context, tok string) (*auth.UserContext, error) {
	if tok == "" || !strings.HasPrefix(tok, oauthcrypto.BearerTokenPrefix) {
		return nil, nil
	}

	rec, ok, err := h.tokens.Get(ctx, tok)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if rec.Expired(h.now()) {
		if _, err := h.tokens.Delete(ctx, tok); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return &auth.UserContext{
		Email: rec.UserEmail,
		Credentials: auth.Credentials{
			APIKey:    h.cipher.Open(rec.CredentialKey),
			APISecret: h.cipher.Open(rec.CredentialSecret),
		},
	}, nil
}

// CheckAuthentication implements auth.Authenticator.
func (h *Handler) CheckAuthentication(ctx context.Context, tok string) (*auth.UserContext, error) {
	uc, err := h.ValidateBearerToken(ctx, tok)
	if err != nil {
		return nil, err
	}
	if uc == nil {
		return nil, auth.ErrUnauthorized
	}
	return uc, nil
}

// RevokeToken deletes tok and reports whether it existed.
func (h *Handler) RevokeToken(ctx context.Context, tok string) (bool, error) {
	existed, err := h.tokens.Delete(ctx, tok)
	if err != nil {
		return false, err
	}
	h.log.InfoContext(ctx, "oauth.revoke", slog.String("token", storage.Redact(tok)), slog.Bool("existed", existed))
	return existed, nil
}

// CleanupExpiredData sweeps both stores concurrently.
func (h *Handler) CleanupExpiredData(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := h.tokens.CleanupExpired(gctx)
		res.TokensCleaned = n
		return err
	})
	g.Go(func() error {
		n, err := h.codes.CleanupExpired(gctx)
		res.CodesCleaned = n
		return err
	})
	if err := g.Wait(); err != nil {
		return res, err
	}
	h.log.InfoContext(ctx, "oauth.cleanup",
		slog.Int("tokens_cleaned", res.TokensCleaned),
		slog.Int("codes_cleaned", res.CodesCleaned),
	)
	return res, nil
}

// RunJanitor calls CleanupExpiredData every interval until ctx is done.
// Sweep failures are logged and do not stop the loop.
func (h *Handler) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := h.CleanupExpiredData(ctx); err != nil && ctx.Err() == nil {
				h.log.ErrorContext(ctx, "oauth.cleanup.fail", slog.String("err", err.Error()))
			}
		}
	}
}
