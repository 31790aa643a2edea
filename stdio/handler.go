package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/extendhq/extend-mcp-server-go/auth"
	"github.com/extendhq/extend-mcp-server-go/internal/jsonrpc"
	"github.com/extendhq/extend-mcp-server-go/internal/logctx"
)

const maxLineBytes = 1 << 20

// Dispatcher answers one JSON-RPC request. *mcphttp.Handler implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response
}

// Handler is a single-connection stdio transport that reads JSON-RPC messages
// from an io.Reader and writes responses to an io.Writer. By default, it uses
// os.Stdin and os.Stdout.
type Handler struct {
	d            Dispatcher
	r            io.Reader
	w            io.Writer
	l            *slog.Logger
	user         *auth.UserContext
	userProvider UserProvider
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(d Dispatcher, opts ...Option) *Handler {
	h := &Handler{
		d:            d,
		r:            os.Stdin,
		w:            os.Stdout,
		l:            slog.New(slog.DiscardHandler),
		userProvider: OSUserProvider{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve runs the read loop until EOF on the reader or the context is
// canceled. EOF is a clean shutdown and returns nil.
func (h *Handler) Serve(ctx context.Context) error {
	if h.d == nil {
		return errors.New("stdio: dispatcher is required")
	}

	email := ""
	if h.user != nil {
		email = h.user.Email
	}
	if email == "" {
		if id, err := h.userProvider.CurrentUserID(); err == nil {
			email = id
		}
	}
	ctx = logctx.WithUserData(ctx, &logctx.UserData{Email: email})
	h.l.InfoContext(ctx, "stdio.start")

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(h.r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for sc.Scan() {
			line := bytes.Clone(sc.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("stdio: read: %w", err)
			}
			h.l.InfoContext(ctx, "stdio.eof")
			return nil
		case line := <-lines:
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			if err := h.handleLine(ctx, line); err != nil {
				return err
			}
		}
	}
}

func (h *Handler) handleLine(ctx context.Context, line []byte) error {
	req, perr := jsonrpc.ParseRequest(line)
	if perr != nil {
		var id *jsonrpc.RequestID
		if req != nil {
			id = req.ID
		}
		h.l.InfoContext(ctx, "rpc.parse.fail", slog.Int("code", int(perr.Code)), slog.String("err", perr.Message))
		return h.write(jsonrpc.NewErrorResponse(id, perr.Code, perr.Message, nil))
	}
	if req.IsNotification() {
		h.l.DebugContext(ctx, "rpc.notification", slog.String("method", req.Method))
		return nil
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String()})
	if h.user != nil {
		uc := *h.user
		defer uc.Clear()
		ctx = auth.WithUserContext(ctx, &uc)
	}
	return h.write(h.d.Dispatch(ctx, req))
}

func (h *Handler) write(resp *jsonrpc.Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("stdio: encode response: %w", err)
	}
	b = append(b, '\n')
	if _, err := h.w.Write(b); err != nil {
		return fmt.Errorf("stdio: write: %w", err)
	}
	return nil
}
