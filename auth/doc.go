// Package auth authenticates inbound protocol requests with opaque bearer
// tokens and carries the resulting per-request identity.
//
// An Authenticator resolves a token string to a UserContext: the end user's
// email and the downstream API credentials their requests run with.
// Middleware extracts the token from the Authorization header, attaches the
// UserContext to the request context and clears it once the wrapped handler
// returns, whether it returned normally or panicked.
//
// Example:
//
//	mux.Handle("/mcp", auth.Middleware(handler)(mcpEndpoint))
//
//	// inside a handler:
//	uc, ok := auth.UserContextFrom(r.Context())
//	if !ok { /* unauthenticated */ }
//	runDownstream(uc.Credentials)
//
// # Errors
//
// ErrUnauthorized signals a missing, malformed, unknown or expired token.
// Middleware turns it into an *AuthenticationError: HTTP 401 with a
// WWW-Authenticate challenge pointing at the protected-resource metadata
// document of the current host. Any other error is treated as a server
// failure and answered with HTTP 500.
package auth
