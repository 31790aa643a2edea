// Package tools is the catalog of operations the MCP endpoint exposes and
// the registry that dispatches calls to them.
//
// Tools are plain descriptors: a name, a permission, an input schema
// reflected from a typed args struct, and a decoder that validates incoming
// arguments. Execution is delegated to a Runner, which owns the downstream
// API. The Registry is the one accessor the endpoint uses; it is built once
// at startup from the configured Permissions.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/extendhq/extend-mcp-server-go/auth"
	"github.com/extendhq/extend-mcp-server-go/mcp"
)

// ErrUnknownTool is returned by Registry.Call for a name that is not
// registered, or is registered but not permitted.
var ErrUnknownTool = errors.New("unknown tool")

// Runner executes an operation against the downstream API on behalf of the
// holder of creds. args is the validated, normalized JSON encoding of the
// operation's args struct.
type Runner interface {
	Run(ctx context.Context, op string, creds auth.Credentials, args json.RawMessage) (any, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, op string, creds auth.Credentials, args json.RawMessage) (any, error)

func (f RunnerFunc) Run(ctx context.Context, op string, creds auth.Credentials, args json.RawMessage) (any, error) {
	return f(ctx, op, creds, args)
}

// Registry lists the permitted tools and invokes them by name.
type Registry interface {
	List() []mcp.Tool
	Call(ctx context.Context, name string, creds auth.Credentials, args json.RawMessage) (*mcp.CallToolResult, error)
}

// Definition describes one tool.
type Definition struct {
	Name        string
	Title       string
	Description string
	Permission  Permission

	schema mcp.ToolInputSchema
	decode func(json.RawMessage) (json.RawMessage, error)
}

// Descriptor is the tools/list entry for d.
func (d Definition) Descriptor() mcp.Tool {
	return mcp.Tool{
		Name:        d.Name,
		Title:       d.Title,
		Description: d.Description,
		InputSchema: d.schema,
	}
}

// Decode validates raw against the tool's args struct and returns its
// normalized encoding.
func (d Definition) Decode(raw json.RawMessage) (json.RawMessage, error) {
	return d.decode(raw)
}

type normalizer interface {
	normalize() error
}

func newDefinition[A any](name, title string, perm Permission, description string) Definition {
	return Definition{
		Name:        name,
		Title:       title,
		Description: description,
		Permission:  perm,
		schema:      reflectInputSchema[A](),
		decode:      decodeArgs[A],
	}
}

// decodeArgs strictly decodes raw into A, applies defaults, validates, and
// re-encodes the result.
func decodeArgs[A any](raw json.RawMessage) (json.RawMessage, error) {
	var a A
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&a); err != nil {
			return nil, err
		}
	}
	if n, ok := any(&a).(normalizer); ok {
		if err := n.normalize(); err != nil {
			return nil, err
		}
	}
	return json.Marshal(a)
}

type registry struct {
	runner Runner
	order  []string
	defs   map[string]Definition
}

// NewRegistry returns a Registry exposing the catalog entries allowed by
// perms, executed by runner.
func NewRegistry(runner Runner, perms Permissions) Registry {
	r := &registry{runner: runner, defs: make(map[string]Definition)}
	for _, d := range catalog {
		if !perms.Allows(d.Permission) {
			continue
		}
		r.order = append(r.order, d.Name)
		r.defs[d.Name] = d
	}
	return r
}

func (r *registry) List() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name].Descriptor())
	}
	return out
}

// Call invokes the named tool. Argument and downstream failures are reported
// as error results; only an unknown tool or a context error is returned as
// an error.
func (r *registry) Call(ctx context.Context, name string, creds auth.Credentials, args json.RawMessage) (*mcp.CallToolResult, error) {
	d, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	normalized, err := d.Decode(args)
	if err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	out, err := r.runner.Run(ctx, d.Name, creds, normalized)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return mcp.ErrorResult(fmt.Sprintf("%s failed: %v", d.Name, err)), nil
	}
	return resultFrom(out)
}

func resultFrom(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.ErrorResult(fmt.Sprintf("encode result: %v", err)), nil
	}
	res := mcp.TextResult(string(b))
	var obj map[string]any
	if json.Unmarshal(b, &obj) == nil {
		res.StructuredContent = obj
	}
	return res, nil
}
