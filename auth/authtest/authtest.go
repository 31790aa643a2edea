// Package authtest provides authenticators for tests.
package authtest

import (
	"context"
	"sync"

	"github.com/extendhq/extend-mcp-server-go/auth"
)

// Tokens is an in-memory Authenticator mapping token strings to users.
// Every successful check returns a fresh copy so clearing one request's
// context never affects another.
type Tokens struct {
	mu    sync.Mutex
	users map[string]auth.UserContext
	err   error
}

// NewTokens creates an empty authenticator.
func NewTokens() *Tokens {
	return &Tokens{users: map[string]auth.UserContext{}}
}

// Add registers tok for uc.
func (t *Tokens) Add(tok string, uc auth.UserContext) *Tokens {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.users[tok] = uc
	return t
}

// FailWith makes every subsequent check return err.
func (t *Tokens) FailWith(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

// CheckAuthentication implements auth.Authenticator.
func (t *Tokens) CheckAuthentication(ctx context.Context, tok string) (*auth.UserContext, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	uc, ok := t.users[tok]
	if !ok {
		return nil, auth.ErrUnauthorized
	}
	return &uc, nil
}
