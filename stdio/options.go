package stdio

import (
	"io"
	"log/slog"

	"github.com/extendhq/extend-mcp-server-go/auth"
)

// Option customizes a Handler.
type Option func(*Handler)

// WithIO sets the reader and writer for the handler.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(h *Handler) {
		if r != nil {
			h.r = r
		}
		if w != nil {
			h.w = w
		}
	}
}

// WithLogger overrides the logger. Logs must not go to the writer.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.l = l
		}
	}
}

// WithUser sets the identity every request runs as.
func WithUser(uc auth.UserContext) Option {
	return func(h *Handler) {
		h.user = &uc
	}
}

// WithUserProvider overrides how the peer's email is resolved when no
// user is configured with WithUser.
func WithUserProvider(up UserProvider) Option {
	return func(h *Handler) {
		if up != nil {
			h.userProvider = up
		}
	}
}
