// Package authserver serves the OAuth 2.1 authorization-server surface of the
// MCP server: discovery documents, the browser login flow that turns an
// Extend API key/secret into an authorization code, and the token,
// revocation and dynamic client registration endpoints.
package authserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/elnormous/contenttype"
	"github.com/extendhq/extend-mcp-server-go/auth"
	"github.com/extendhq/extend-mcp-server-go/internal/oauthcrypto"
	"github.com/extendhq/extend-mcp-server-go/internal/wellknown"
	"github.com/extendhq/extend-mcp-server-go/oauth"
	"github.com/extendhq/extend-mcp-server-go/storage"
)

const (
	maxBodyBytes      = 64 << 10
	defaultClientName = "MCP Client"
)

var (
	jsonMediaType      = contenttype.NewMediaType("application/json")
	formMediaType      = contenttype.NewMediaType("application/x-www-form-urlencoded")
	multipartMediaType = contenttype.NewMediaType("multipart/form-data")

	errUnsupportedMediaType = errors.New("unsupported content type")
)

// CredentialValidator checks a user's downstream API credentials before an
// authorization code is issued for them.
type CredentialValidator interface {
	ValidateCredentials(ctx context.Context, creds auth.Credentials) error
}

// CredentialValidatorFunc adapts a function to CredentialValidator.
type CredentialValidatorFunc func(ctx context.Context, creds auth.Credentials) error

func (f CredentialValidatorFunc) ValidateCredentials(ctx context.Context, creds auth.Credentials) error {
	return f(ctx, creds)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithRateLimit limits /token, /callback and /register to rpm requests per
// minute per client IP. Zero disables limiting.
func WithRateLimit(rpm int) Option {
	return func(s *Server) { s.limiter = NewRateLimiter(rpm) }
}

// WithForwardedClientIP keys the rate limiter on the first X-Forwarded-For
// hop. Enable only behind a proxy that sets the header.
func WithForwardedClientIP() Option {
	return func(s *Server) { s.trustForwarded = true }
}

// Server is an http.Handler for the authorization-server endpoints.
type Server struct {
	cfg       oauth.Config
	oauth     *oauth.Handler
	validator CredentialValidator
	log       *slog.Logger
	limiter   *RateLimiter

	trustForwarded bool

	mux *http.ServeMux
}

// New builds the endpoint handler. cfg must already be validated.
func New(cfg oauth.Config, h *oauth.Handler, validator CredentialValidator, opts ...Option) (*Server, error) {
	if h == nil {
		return nil, fmt.Errorf("oauth handler is required")
	}
	if validator == nil {
		return nil, fmt.Errorf("credential validator is required")
	}
	s := &Server{
		cfg:       cfg,
		oauth:     h,
		validator: validator,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter != nil {
		s.limiter.trustForwarded = s.trustForwarded
	}

	mux := http.NewServeMux()
	for _, p := range []string{wellknown.ProtectedResourcePath, wellknown.AuthorizationServerPath} {
		handler := s.handleGetProtectedResourceMetadata
		if p == wellknown.AuthorizationServerPath {
			handler = s.handleGetAuthorizationServerMetadata
		}
		mux.HandleFunc("GET "+p, handler)
		mux.HandleFunc("OPTIONS "+p, handleOptionsMetadata)
		mux.HandleFunc("GET "+p+"/", handler)
		mux.HandleFunc("OPTIONS "+p+"/", handleOptionsMetadata)
	}
	mux.HandleFunc("GET "+oauth.AuthorizePath, s.handleAuthorize)
	mux.Handle("POST "+oauth.CallbackPath, s.limiter.Wrap(http.HandlerFunc(s.handleCallback)))
	mux.Handle("POST "+oauth.TokenPath, s.limiter.Wrap(http.HandlerFunc(s.handleToken)))
	mux.HandleFunc("POST "+oauth.RevokePath, s.handleRevoke)
	mux.Handle("POST "+oauth.RegisterPath, s.limiter.Wrap(http.HandlerFunc(s.handleRegister)))
	s.mux = mux
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func handleOptionsMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
	w.Header().Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

// handleGetProtectedResourceMetadata serves the OAuth 2.0 Protected Resource
// Metadata document.
func (s *Server) handleGetProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	writeMetadata(w, s.cfg.ProtectedResourceMetadata(auth.BaseURL(r)))
}

// handleGetAuthorizationServerMetadata serves the RFC 8414 document. Without
// a configured issuer the endpoints are rebased on the request's own host.
func (s *Server) handleGetAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	writeMetadata(w, s.cfg.AuthorizationServerMetadata(auth.BaseURL(r)))
}

func writeMetadata(w http.ResponseWriter, doc any) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Vary", "Origin")
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	responseType := q.Get("response_type")
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	challenge := q.Get("code_challenge")
	method := q.Get("code_challenge_method")
	if method == "" {
		method = oauthcrypto.MethodS256
	}

	var problem string
	switch {
	case responseType == "":
		problem = "Missing response_type parameter"
	case responseType != "code":
		problem = "Unsupported response_type. Only 'code' is supported."
	case clientID == "":
		problem = "Missing client_id parameter"
	case redirectURI == "":
		problem = "Missing redirect_uri parameter"
	case challenge == "":
		problem = "Missing code_challenge parameter (PKCE required)"
	case !oauthcrypto.IsSupportedMethod(method):
		problem = "Unsupported code_challenge_method"
	case !validRedirectURI(redirectURI):
		problem = "Invalid redirect_uri format"
	}
	if problem != "" {
		s.log.InfoContext(ctx, "oauth.authorize.reject", slog.String("reason", problem), slog.String("client_id", clientID))
		http.Error(w, problem, http.StatusBadRequest)
		return
	}

	page := loginPage{
		Action:              s.cfg.Endpoints(auth.BaseURL(r)).Callback,
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		State:               q.Get("state"),
		Scope:               q.Get("scope"),
	}
	var buf bytes.Buffer
	if err := loginTemplate.Execute(&buf, page); err != nil {
		s.log.ErrorContext(ctx, "oauth.authorize.render.fail", slog.String("err", err.Error()))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
	s.log.InfoContext(ctx, "oauth.authorize.render", slog.String("client_id", clientID))
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form, err := readParams(w, r)
	if err != nil {
		http.Error(w, "Invalid form submission", statusForParamsError(err))
		return
	}

	email := strings.TrimSpace(form.Get("user_email"))
	creds := auth.Credentials{
		APIKey:    strings.TrimSpace(form.Get("extend_api_key")),
		APISecret: strings.TrimSpace(form.Get("extend_api_secret")),
	}
	redirectURI := form.Get("redirect_uri")
	challenge := form.Get("code_challenge")
	if email == "" || creds.APIKey == "" || creds.APISecret == "" || redirectURI == "" || challenge == "" {
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	target, err := url.Parse(redirectURI)
	if err != nil || !validRedirectURI(redirectURI) {
		http.Error(w, "Invalid redirect_uri format", http.StatusBadRequest)
		return
	}

	if err := s.validator.ValidateCredentials(ctx, creds); err != nil {
		s.log.WarnContext(ctx, "oauth.callback.credentials.invalid",
			slog.String("email", email),
			slog.String("err", err.Error()),
		)
		http.Error(w, "Invalid Extend API credentials. Please check your API key and secret.", http.StatusBadRequest)
		return
	}

	state := form.Get("state")
	code, err := s.oauth.GenerateAuthorizationCode(ctx, oauth.CodeRequest{
		UserEmail:           email,
		Credentials:         creds,
		CodeChallenge:       challenge,
		CodeChallengeMethod: form.Get("code_challenge_method"),
		ClientID:            form.Get("client_id"),
		RedirectURI:         redirectURI,
		State:               state,
	})
	if err != nil {
		if errors.Is(err, oauthcrypto.ErrUnsupportedMethod) {
			http.Error(w, "Unsupported code_challenge_method", http.StatusBadRequest)
			return
		}
		s.log.ErrorContext(ctx, "oauth.callback.fail", slog.String("err", err.Error()))
		http.Error(w, "Internal server error during authentication", http.StatusInternalServerError)
		return
	}

	q := target.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	target.RawQuery = q.Encode()

	s.log.InfoContext(ctx, "oauth.callback.ok",
		slog.String("email", email),
		slog.String("redirect_host", target.Host),
	)
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	form, err := readParams(w, r)
	if err != nil {
		writeOAuthError(w, statusForParamsError(err), "invalid_request", "Malformed token request")
		return
	}
	if form.Get("grant_type") != "authorization_code" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "Only authorization_code grant type is supported")
		return
	}
	code := form.Get("code")
	if code == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "Missing authorization code")
		return
	}
	verifier := form.Get("code_verifier")
	if verifier == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "Missing PKCE code_verifier")
		return
	}

	resp, err := s.oauth.ExchangeCodeForToken(ctx, oauth.ExchangeRequest{
		Code:         code,
		CodeVerifier: verifier,
		ClientID:     form.Get("client_id"),
		RedirectURI:  form.Get("redirect_uri"),
	})
	if err != nil {
		var ge *oauth.GrantError
		if errors.As(err, &ge) {
			writeOAuthError(w, http.StatusBadRequest, ge.Code, ge.Description)
			return
		}
		s.log.ErrorContext(ctx, "oauth.token.fail",
			slog.String("code", storage.Redact(code)),
			slog.String("err", err.Error()),
		)
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form, err := readParams(w, r)
	if err != nil {
		writeOAuthError(w, statusForParamsError(err), "invalid_request", "Malformed revocation request")
		return
	}
	tok := form.Get("token")
	if tok == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "Missing token parameter")
		return
	}
	if _, err := s.oauth.RevokeToken(ctx, tok); err != nil {
		s.log.ErrorContext(ctx, "oauth.revoke.fail", slog.String("err", err.Error()))
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

// RegistrationRequest is the subset of RFC 7591 client metadata the server
// reads.
type RegistrationRequest struct {
	ClientName   string   `json:"client_name"`
	RedirectURIs []string `json:"redirect_uris,omitempty"`
}

// RegistrationResponse is returned by POST /register.
type RegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RegistrationRequest
	ctype, err := contenttype.GetMediaType(r)
	if err == nil && isMediaType(ctype, jsonMediaType) {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeOAuthError(w, http.StatusBadRequest, "invalid_client_metadata", "Request body is not valid JSON")
			return
		}
	}
	for _, u := range req.RedirectURIs {
		if !validRedirectURI(u) {
			writeOAuthError(w, http.StatusBadRequest, "invalid_redirect_uri", fmt.Sprintf("Invalid redirect_uri %q", u))
			return
		}
	}
	if req.ClientName == "" {
		req.ClientName = defaultClientName
	}

	clientID, err := oauthcrypto.GenerateClientID()
	if err != nil {
		s.log.ErrorContext(ctx, "oauth.register.fail", slog.String("err", err.Error()))
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}
	s.log.InfoContext(ctx, "oauth.register.ok", slog.String("client_id", clientID), slog.String("client_name", req.ClientName))
	writeJSON(w, http.StatusCreated, RegistrationResponse{
		ClientID:                clientID,
		ClientName:              req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{"authorization_code"},
		ResponseTypes:           []string{"code"},
	})
}

// validRedirectURI requires an absolute URI with scheme and host and no
// fragment.
func validRedirectURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != "" && u.Fragment == ""
}

// readParams returns the request's body parameters. Form encodings are read
// with ParseForm; a JSON object body is flattened to string values.
func readParams(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if r.Header.Get("Content-Type") == "" {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		return r.PostForm, nil
	}
	ctype, err := contenttype.GetMediaType(r)
	if err != nil {
		return nil, errUnsupportedMediaType
	}
	switch {
	case isMediaType(ctype, jsonMediaType):
		var body map[string]any
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil {
			return nil, fmt.Errorf("decode json body: %w", err)
		}
		vals := url.Values{}
		for k, v := range body {
			switch v := v.(type) {
			case string:
				vals.Set(k, v)
			case json.Number:
				vals.Set(k, v.String())
			case bool:
				vals.Set(k, fmt.Sprint(v))
			}
		}
		return vals, nil
	case isMediaType(ctype, multipartMediaType):
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			return nil, err
		}
		return r.PostForm, nil
	case isMediaType(ctype, formMediaType):
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		return r.PostForm, nil
	default:
		return nil, errUnsupportedMediaType
	}
}

// isMediaType compares type and subtype only, ignoring parameters such as
// charset.
func isMediaType(got, want contenttype.MediaType) bool {
	bare := contenttype.MediaType{Type: got.Type, Subtype: got.Subtype}
	return bare.Matches(want)
}

func statusForParamsError(err error) int {
	if errors.Is(err, errUnsupportedMediaType) {
		return http.StatusUnsupportedMediaType
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
