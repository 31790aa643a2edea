// Package mcphttp serves the MCP JSON-RPC endpoint over plain HTTP POST.
//
// Each POST carries exactly one JSON-RPC message and is answered with one
// application/json response (or 202 for notifications). There are no
// server-initiated streams and no sessions: every request is authenticated
// on its own by the middleware in front of the handler, and tools run on
// the request's context so they see that request's auth.UserContext.
package mcphttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/extendhq/extend-mcp-server-go/auth"
	"github.com/extendhq/extend-mcp-server-go/internal/jsonrpc"
	"github.com/extendhq/extend-mcp-server-go/internal/logctx"
	"github.com/extendhq/extend-mcp-server-go/mcp"
	"github.com/extendhq/extend-mcp-server-go/tools"
)

// ProtocolVersionHeader is sent by clients after initialization.
const ProtocolVersionHeader = "MCP-Protocol-Version"

const maxMessageBytes = 1 << 20

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	acceptableMediaTypes = []contenttype.MediaType{jsonMediaType}
)

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithServerInfo sets the implementation info returned by initialize.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(h *Handler) { h.info = info }
}

// WithInstructions sets the instructions returned by initialize.
func WithInstructions(s string) Option {
	return func(h *Handler) { h.instructions = s }
}

// Handler is the http.Handler for the MCP endpoint.
type Handler struct {
	registry     tools.Registry
	log          *slog.Logger
	info         mcp.ImplementationInfo
	instructions string
}

// New returns a Handler dispatching tool calls to registry.
func New(registry tools.Registry, opts ...Option) (*Handler, error) {
	if registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	h := &Handler{
		registry: registry,
		log:      slog.Default(),
		info:     mcp.ImplementationInfo{Name: "extend-mcp-server", Version: "dev"},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || ctype.Type != jsonMediaType.Type || ctype.Subtype != jsonMediaType.Subtype {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(r.Context(), "content_type.unsupported")
		return
	}
	if r.Header.Get("Accept") != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, acceptableMediaTypes); err != nil {
			writeJSONError(w, http.StatusNotAcceptable, "client must accept application/json")
			return
		}
	}
	if v := r.Header.Get(ProtocolVersionHeader); v != "" && !slices.Contains(mcp.SupportedProtocolVersions, v) {
		writeResponse(w, http.StatusBadRequest, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest,
			fmt.Sprintf("Unsupported protocol version %q", v), nil))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "message too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	req, perr := jsonrpc.ParseRequest(body)
	if perr != nil {
		var id *jsonrpc.RequestID
		if req != nil {
			id = req.ID
		}
		h.log.InfoContext(r.Context(), "rpc.parse.fail", slog.Int("code", int(perr.Code)), slog.String("err", perr.Message))
		writeResponse(w, http.StatusBadRequest, jsonrpc.NewErrorResponse(id, perr.Code, perr.Message, nil))
		return
	}

	ctx := logctx.WithRPCMessage(r.Context(), &logctx.RPCMessage{Method: req.Method, ID: req.ID.String()})

	if req.IsNotification() {
		h.log.DebugContext(ctx, "rpc.notification")
		w.WriteHeader(http.StatusAccepted)
		return
	}

	start := time.Now()
	resp := h.Dispatch(ctx, req)
	h.log.InfoContext(ctx, "rpc.done",
		slog.Duration("dur", time.Since(start)),
		slog.Bool("error", resp.Error != nil),
	)
	writeResponse(w, http.StatusOK, resp)
}

// Dispatch runs one request and returns its response. The user, if any, is
// taken from ctx. A panic in a method becomes an internal error response for
// the same id.
func (h *Handler) Dispatch(ctx context.Context, req *jsonrpc.Request) (resp *jsonrpc.Response) {
	defer func() {
		if p := recover(); p != nil {
			h.log.ErrorContext(ctx, "rpc.panic",
				slog.String("panic", fmt.Sprint(p)),
				slog.String("stack", string(debug.Stack())),
			)
			resp = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal error", nil)
		}
	}()

	var (
		result any
		rpcErr *jsonrpc.Error
	)
	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		result, rpcErr = h.initialize(req.Params)
	case mcp.PingMethod:
		result = struct{}{}
	case mcp.ToolsListMethod:
		result = mcp.ListToolsResult{Tools: h.registry.List()}
	case mcp.ToolsCallMethod:
		result, rpcErr = h.callTool(ctx, req.Params)
	default:
		rpcErr = &jsonrpc.Error{Code: jsonrpc.ErrorCodeMethodNotFound, Message: "Method not found: " + req.Method}
	}
	if rpcErr != nil {
		return jsonrpc.NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	}

	out, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		h.log.ErrorContext(ctx, "rpc.result.encode.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal error", nil)
	}
	return out
}

func (h *Handler) initialize(params json.RawMessage) (any, *jsonrpc.Error) {
	var p mcp.InitializeRequest
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: "Invalid params: " + err.Error()}
		}
	}
	version := mcp.LatestProtocolVersion
	if slices.Contains(mcp.SupportedProtocolVersions, p.ProtocolVersion) {
		version = p.ProtocolVersion
	}
	return mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    mcp.ServerCapabilities{Tools: &mcp.ToolsCapability{}},
		ServerInfo:      h.info,
		Instructions:    h.instructions,
	}, nil
}

func (h *Handler) callTool(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error) {
	var p mcp.CallToolRequest
	if err := json.Unmarshal(params, &p); err != nil || p.Name == "" {
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: "Invalid params: tool name is required"}
	}

	uc, ok := auth.UserContextFrom(ctx)
	if !ok {
		h.log.ErrorContext(ctx, "tools.call.no_user")
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeInternalError, Message: "Internal error: no authenticated user"}
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: p.Name})
	res, err := h.registry.Call(ctx, p.Name, uc.Credentials, p.Arguments)
	if err != nil {
		if errors.Is(err, tools.ErrUnknownTool) {
			return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: "Unknown tool: " + p.Name}
		}
		h.log.ErrorContext(ctx, "tools.call.fail", slog.String("err", err.Error()))
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeInternalError, Message: "Internal error"}
	}
	if res.IsError {
		h.log.InfoContext(ctx, "tools.call.error_result")
	} else {
		h.log.InfoContext(ctx, "tools.call.ok")
	}
	return res, nil
}

func writeResponse(w http.ResponseWriter, status int, resp *jsonrpc.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
