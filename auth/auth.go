package auth

import (
	"context"
	"errors"
	"log/slog"
)

// ErrUnauthorized indicates authentication failed or no valid credentials were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// Credentials are the downstream API credentials of one end user.
type Credentials struct {
	APIKey    string
	APISecret string
}

// UserContext is the identity attached to a single authenticated request.
// It is never shared between requests.
type UserContext struct {
	Email       string
	Credentials Credentials
}

// Clear wipes the identity and credentials in place.
func (u *UserContext) Clear() {
	if u == nil {
		return
	}
	u.Email = ""
	u.Credentials = Credentials{}
}

// LogValue keeps credentials out of log output.
func (u *UserContext) LogValue() slog.Value {
	if u == nil {
		return slog.StringValue("")
	}
	return slog.GroupValue(slog.String("email", u.Email))
}

// Authenticator validates bearer tokens and returns the associated user.
// It should return ErrUnauthorized for invalid credentials and any other
// error for backend failures.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (*UserContext, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, tok string) (*UserContext, error)

func (f AuthenticatorFunc) CheckAuthentication(ctx context.Context, tok string) (*UserContext, error) {
	return f(ctx, tok)
}

type userContextKey struct{}

// WithUserContext returns a copy of ctx carrying uc.
func WithUserContext(ctx context.Context, uc *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, uc)
}

// UserContextFrom returns the user attached to ctx. A cleared context is
// reported as absent.
func UserContextFrom(ctx context.Context) (*UserContext, bool) {
	uc, ok := ctx.Value(userContextKey{}).(*UserContext)
	if !ok || uc == nil || uc.Credentials.APIKey == "" {
		return nil, false
	}
	return uc, true
}
