package oauth

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/extendhq/extend-mcp-server-go/auth"
	"github.com/extendhq/extend-mcp-server-go/credentials"
	"github.com/extendhq/extend-mcp-server-go/internal/oauthcrypto"
	"github.com/extendhq/extend-mcp-server-go/storage"
	"github.com/extendhq/extend-mcp-server-go/storage/file"
	"github.com/extendhq/extend-mcp-server-go/storage/memory"
	"github.com/extendhq/extend-mcp-server-go/storage/storagetest"
)

var testCreds = auth.Credentials{APIKey: "apik_test_key", APISecret: "s3cret"}

type fixture struct {
	h      *Handler
	codes  CodeStore
	tokens TokenStore
	clock  *storagetest.Clock
}

type backendFactory func(t *testing.T, clock *storagetest.Clock) (CodeStore, TokenStore)

func memoryBackend(t *testing.T, clock *storagetest.Clock) (CodeStore, TokenStore) {
	codes, err := memory.New[*AuthorizationCode](0, storage.WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	tokens, err := memory.New[*BearerToken](0, storage.WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	return codes, tokens
}

func fileBackend(t *testing.T, clock *storagetest.Clock) (CodeStore, TokenStore) {
	dir := t.TempDir()
	codes, err := file.New[*AuthorizationCode](filepath.Join(dir, "codes.json"), storage.WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	tokens, err := file.New[*BearerToken](filepath.Join(dir, "tokens.json"), storage.WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	return codes, tokens
}

var backends = map[string]backendFactory{
	"memory": memoryBackend,
	"file":   fileBackend,
}

func newFixture(t *testing.T, backend backendFactory, opts ...Option) *fixture {
	t.Helper()
	clock := storagetest.NewClock()
	codes, tokens := backend(t, clock)
	cipher, err := credentials.NewAEAD("test-secret")
	if err != nil {
		t.Fatal(err)
	}
	opts = append([]Option{WithClock(clock.Now), WithCipher(cipher)}, opts...)
	h, err := NewHandler(codes, tokens, opts...)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return &fixture{h: h, codes: codes, tokens: tokens, clock: clock}
}

// issue generates a code bound to a fresh S256 verifier.
func (f *fixture) issue(t *testing.T) (code, verifier string) {
	t.Helper()
	verifier, err := oauthcrypto.GeneratePKCEVerifier()
	if err != nil {
		t.Fatal(err)
	}
	challenge, err := oauthcrypto.GeneratePKCEChallenge(verifier, oauthcrypto.MethodS256)
	if err != nil {
		t.Fatal(err)
	}
	code, err = f.h.GenerateAuthorizationCode(context.Background(), CodeRequest{
		UserEmail:           "user@example.com",
		Credentials:         testCreds,
		CodeChallenge:       challenge,
		CodeChallengeMethod: oauthcrypto.MethodS256,
		ClientID:            "mcp_client_0123456789abcdef",
		RedirectURI:         "http://localhost:33418/callback",
		State:               "xyz",
	})
	if err != nil {
		t.Fatalf("GenerateAuthorizationCode: %v", err)
	}
	return code, verifier
}

func assertGrantError(t *testing.T, err error, desc string) {
	t.Helper()
	if !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("err = %v, want invalid_grant", err)
	}
	var ge *GrantError
	if !errors.As(err, &ge) {
		t.Fatalf("err = %T, want *GrantError", err)
	}
	if ge.Description != desc {
		t.Fatalf("description = %q, want %q", ge.Description, desc)
	}
}

func TestFullFlow(t *testing.T) {
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, backend)
			ctx := context.Background()
			code, verifier := f.issue(t)

			if !strings.HasPrefix(code, oauthcrypto.AuthorizationCodePrefix) {
				t.Errorf("code %q missing prefix", code)
			}

			resp, err := f.h.ExchangeCodeForToken(ctx, ExchangeRequest{
				Code:         code,
				CodeVerifier: verifier,
				ClientID:     "mcp_client_0123456789abcdef",
				RedirectURI:  "http://localhost:33418/callback",
			})
			if err != nil {
				t.Fatalf("ExchangeCodeForToken: %v", err)
			}
			if resp.TokenType != "Bearer" || resp.Scope != "mcp" || resp.ExpiresIn != 86400 {
				t.Errorf("response = %+v", resp)
			}
			if !strings.HasPrefix(resp.AccessToken, oauthcrypto.BearerTokenPrefix) {
				t.Errorf("token %q missing prefix", resp.AccessToken)
			}

			uc, err := f.h.ValidateBearerToken(ctx, resp.AccessToken)
			if err != nil {
				t.Fatalf("ValidateBearerToken: %v", err)
			}
			if uc == nil {
				t.Fatal("issued token did not validate")
			}
			if uc.Email != "user@example.com" || uc.Credentials != testCreds {
				t.Errorf("user context = %+v", uc)
			}
		})
	}
}

func TestCredentialsSealedAtRest(t *testing.T) {
	f := newFixture(t, memoryBackend)
	ctx := context.Background()
	code, verifier := f.issue(t)

	rec, ok, err := f.codes.Get(ctx, code)
	if err != nil || !ok {
		t.Fatalf("code not stored: %v", err)
	}
	if rec.CredentialKey == testCreds.APIKey || rec.CredentialSecret == testCreds.APISecret {
		t.Fatal("authorization code stores plaintext credentials")
	}
	if !rec.ExpiresAt.Equal(f.clock.Now().Add(AuthorizationCodeTTL)) {
		t.Errorf("code expiry = %v, want created + 10m", rec.ExpiresAt)
	}

	resp, err := f.h.ExchangeCodeForToken(ctx, ExchangeRequest{Code: code, CodeVerifier: verifier})
	if err != nil {
		t.Fatal(err)
	}
	tok, ok, err := f.tokens.Get(ctx, resp.AccessToken)
	if err != nil || !ok {
		t.Fatalf("token not stored: %v", err)
	}
	if tok.CredentialKey != rec.CredentialKey || tok.CredentialSecret != rec.CredentialSecret {
		t.Error("token does not carry the sealed credentials from the code")
	}
}

func TestCodesAreSingleUse(t *testing.T) {
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, backend)
			ctx := context.Background()
			code, verifier := f.issue(t)

			if _, err := f.h.ExchangeCodeForToken(ctx, ExchangeRequest{Code: code, CodeVerifier: verifier}); err != nil {
				t.Fatalf("first exchange: %v", err)
			}
			_, err := f.h.ExchangeCodeForToken(ctx, ExchangeRequest{Code: code, CodeVerifier: verifier})
			assertGrantError(t, err, DescInvalidCode)
		})
	}
}

func TestExpiredCode(t *testing.T) {
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, backend)
			ctx := context.Background()
			code, verifier := f.issue(t)

			f.clock.Advance(AuthorizationCodeTTL + time.Second)

			_, err := f.h.ExchangeCodeForToken(ctx, ExchangeRequest{Code: code, CodeVerifier: verifier})
			assertGrantError(t, err, DescCodeExpired)

			if _, st, err := f.codes.Lookup(ctx, code); err != nil || st != storage.Absent {
				t.Errorf("expired code still stored: %v, %v", st, err)
			}
		})
	}
}

func TestCodeValidOneInstantBeforeExpiry(t *testing.T) {
	f := newFixture(t, memoryBackend)
	code, verifier := f.issue(t)
	f.clock.Advance(AuthorizationCodeTTL - time.Nanosecond)
	if _, err := f.h.ExchangeCodeForToken(context.Background(), ExchangeRequest{Code: code, CodeVerifier: verifier}); err != nil {
		t.Fatalf("exchange just before expiry: %v", err)
	}
}

func TestExchangeValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(req *ExchangeRequest)
		wantDesc string
	}{
		{
			name:     "unknown code",
			mutate:   func(req *ExchangeRequest) { req.Code = "code_unknown" },
			wantDesc: DescInvalidCode,
		},
		{
			name:     "wrong verifier",
			mutate:   func(req *ExchangeRequest) { req.CodeVerifier = flipLast(req.CodeVerifier) },
			wantDesc: DescInvalidVerifier,
		},
		{
			name:     "empty verifier",
			mutate:   func(req *ExchangeRequest) { req.CodeVerifier = "" },
			wantDesc: DescInvalidVerifier,
		},
		{
			name:     "client mismatch",
			mutate:   func(req *ExchangeRequest) { req.ClientID = "mcp_client_other" },
			wantDesc: DescClientMismatch,
		},
		{
			name:     "redirect mismatch",
			mutate:   func(req *ExchangeRequest) { req.RedirectURI = "http://evil.example/callback" },
			wantDesc: DescRedirectMismatch,
		},
		{
			name:     "verifier checked before client",
			mutate:   func(req *ExchangeRequest) { req.CodeVerifier = "x"; req.ClientID = "mcp_client_other" },
			wantDesc: DescInvalidVerifier,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, memoryBackend)
			ctx := context.Background()
			code, verifier := f.issue(t)

			req := ExchangeRequest{
				Code:         code,
				CodeVerifier: verifier,
				ClientID:     "mcp_client_0123456789abcdef",
				RedirectURI:  "http://localhost:33418/callback",
			}
			tt.mutate(&req)
			_, err := f.h.ExchangeCodeForToken(ctx, req)
			assertGrantError(t, err, tt.wantDesc)

			// A failed validation does not consume the code.
			if tt.wantDesc != DescInvalidCode {
				if _, ok, _ := f.codes.Get(ctx, code); !ok {
					t.Error("code consumed by a failed exchange")
				}
			}
		})
	}
}

func flipLast(s string) string {
	last := byte('A')
	if s[len(s)-1] == 'A' {
		last = 'B'
	}
	return s[:len(s)-1] + string(last)
}

func TestOptionalBindingsMayBeOmitted(t *testing.T) {
	f := newFixture(t, memoryBackend)
	code, verifier := f.issue(t)
	if _, err := f.h.ExchangeCodeForToken(context.Background(), ExchangeRequest{Code: code, CodeVerifier: verifier}); err != nil {
		t.Fatalf("exchange without client_id/redirect_uri: %v", err)
	}
}

func TestPlainMethod(t *testing.T) {
	f := newFixture(t, memoryBackend)
	ctx := context.Background()
	code, err := f.h.GenerateAuthorizationCode(ctx, CodeRequest{
		UserEmail:           "user@example.com",
		Credentials:         testCreds,
		CodeChallenge:       "plain-verifier-value",
		CodeChallengeMethod: oauthcrypto.MethodPlain,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.h.ExchangeCodeForToken(ctx, ExchangeRequest{Code: code, CodeVerifier: "plain-verifier-value"}); err != nil {
		t.Fatalf("plain exchange: %v", err)
	}
}

func TestGenerateRejectsUnsupportedMethod(t *testing.T) {
	f := newFixture(t, memoryBackend)
	_, err := f.h.GenerateAuthorizationCode(context.Background(), CodeRequest{
		Credentials:         testCreds,
		CodeChallenge:       "c",
		CodeChallengeMethod: "S512",
	})
	if !errors.Is(err, oauthcrypto.ErrUnsupportedMethod) {
		t.Fatalf("err = %v, want ErrUnsupportedMethod", err)
	}
}

func TestConcurrentExchangeRace(t *testing.T) {
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, backend)
			ctx := context.Background()
			code, verifier := f.issue(t)

			const racers = 8
			var wg sync.WaitGroup
			start := make(chan struct{})
			results := make(chan error, racers)
			for i := 0; i < racers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					_, err := f.h.ExchangeCodeForToken(ctx, ExchangeRequest{Code: code, CodeVerifier: verifier})
					results <- err
				}()
			}
			close(start)
			wg.Wait()
			close(results)

			successes := 0
			for err := range results {
				switch {
				case err == nil:
					successes++
				case errors.Is(err, ErrInvalidGrant):
				default:
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if successes != 1 {
				t.Fatalf("successes = %d, want exactly 1", successes)
			}
		})
	}
}

func TestValidateBearerToken(t *testing.T) {
	f := newFixture(t, memoryBackend)
	ctx := context.Background()

	for _, tok := range []string{"", "not_oauth_token", "code_abc", "oauth_unknown"} {
		uc, err := f.h.ValidateBearerToken(ctx, tok)
		if err != nil || uc != nil {
			t.Errorf("ValidateBearerToken(%q) = %v, %v; want nil, nil", tok, uc, err)
		}
	}

	code, verifier := f.issue(t)
	resp, err := f.h.ExchangeCodeForToken(ctx, ExchangeRequest{Code: code, CodeVerifier: verifier})
	if err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(DefaultTokenTTL)
	uc, err := f.h.ValidateBearerToken(ctx, resp.AccessToken)
	if err != nil || uc != nil {
		t.Fatalf("expired token validated: %v, %v", uc, err)
	}
	if existed, _ := f.tokens.Delete(ctx, resp.AccessToken); existed {
		t.Error("expired token was not deleted on validation")
	}
}

func TestTokenTTLOption(t *testing.T) {
	f := newFixture(t, memoryBackend, WithTokenTTL(2*time.Hour))
	code, verifier := f.issue(t)
	resp, err := f.h.ExchangeCodeForToken(context.Background(), ExchangeRequest{Code: code, CodeVerifier: verifier})
	if err != nil {
		t.Fatal(err)
	}
	if resp.ExpiresIn != 7200 {
		t.Errorf("expires_in = %d, want 7200", resp.ExpiresIn)
	}
}

func TestCheckAuthentication(t *testing.T) {
	f := newFixture(t, memoryBackend)
	_, err := f.h.CheckAuthentication(context.Background(), "oauth_unknown")
	if !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestRevokeMonotonicity(t *testing.T) {
	f := newFixture(t, memoryBackend)
	ctx := context.Background()
	code, verifier := f.issue(t)
	resp, err := f.h.ExchangeCodeForToken(ctx, ExchangeRequest{Code: code, CodeVerifier: verifier})
	if err != nil {
		t.Fatal(err)
	}

	revoked, err := f.h.RevokeToken(ctx, resp.AccessToken)
	if err != nil || !revoked {
		t.Fatalf("first revoke = %v, %v; want true", revoked, err)
	}
	if uc, _ := f.h.ValidateBearerToken(ctx, resp.AccessToken); uc != nil {
		t.Fatal("revoked token still validates")
	}
	revoked, err = f.h.RevokeToken(ctx, resp.AccessToken)
	if err != nil || revoked {
		t.Fatalf("second revoke = %v, %v; want false", revoked, err)
	}
}

func TestCleanupExpiredData(t *testing.T) {
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, backend)
			ctx := context.Background()

			code, verifier := f.issue(t)
			if _, err := f.h.ExchangeCodeForToken(ctx, ExchangeRequest{Code: code, CodeVerifier: verifier}); err != nil {
				t.Fatal(err)
			}
			for i := 0; i < 3; i++ {
				f.issue(t)
			}

			res, err := f.h.CleanupExpiredData(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if res != (CleanupResult{}) {
				t.Errorf("cleanup before expiry = %+v", res)
			}

			f.clock.Advance(DefaultTokenTTL)
			res, err = f.h.CleanupExpiredData(ctx)
			if err != nil {
				t.Fatal(err)
			}
			want := CleanupResult{TokensCleaned: 1, CodesCleaned: 3}
			if res != want {
				t.Errorf("cleanup = %+v, want %+v", res, want)
			}
		})
	}
}

// failingStore fails every operation with a backend error.
type failingStore[R storage.Record] struct{}

func (failingStore[R]) fail(op string) error {
	return &storage.Error{Op: op, Err: fmt.Errorf("connection refused")}
}
func (s failingStore[R]) Store(context.Context, R) error { return s.fail("store") }
func (s failingStore[R]) Get(context.Context, string) (R, bool, error) {
	var zero R
	return zero, false, s.fail("get")
}
func (s failingStore[R]) Lookup(context.Context, string) (R, storage.Status, error) {
	var zero R
	return zero, storage.Absent, s.fail("get")
}
func (s failingStore[R]) Delete(context.Context, string) (bool, error) { return false, s.fail("delete") }
func (s failingStore[R]) CleanupExpired(context.Context) (int, error)  { return 0, s.fail("cleanup") }
func (failingStore[R]) Close() error                                   { return nil }

func TestStoreFailuresAreNotGrantErrors(t *testing.T) {
	h, err := NewHandler(failingStore[*AuthorizationCode]{}, failingStore[*BearerToken]{})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	_, err = h.ExchangeCodeForToken(ctx, ExchangeRequest{Code: "code_x", CodeVerifier: "v"})
	if err == nil || errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("exchange err = %v, want a storage error", err)
	}
	if !errors.Is(err, storage.ErrBackend) {
		t.Errorf("exchange err = %v, want ErrBackend", err)
	}

	_, err = h.ValidateBearerToken(ctx, "oauth_x")
	if !errors.Is(err, storage.ErrBackend) {
		t.Errorf("validate err = %v, want ErrBackend", err)
	}
	_, err = h.CheckAuthentication(ctx, "oauth_x")
	if err == nil || errors.Is(err, auth.ErrUnauthorized) {
		t.Errorf("CheckAuthentication err = %v, must not look like bad credentials", err)
	}
	if _, err := h.CleanupExpiredData(ctx); !errors.Is(err, storage.ErrBackend) {
		t.Errorf("cleanup err = %v, want ErrBackend", err)
	}
}

func TestRunJanitorStopsWithContext(t *testing.T) {
	f := newFixture(t, memoryBackend)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.h.RunJanitor(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}
