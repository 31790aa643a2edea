package stdio_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/extendhq/extend-mcp-server-go/auth"
	"github.com/extendhq/extend-mcp-server-go/internal/jsonrpc"
	"github.com/extendhq/extend-mcp-server-go/mcphttp"
	"github.com/extendhq/extend-mcp-server-go/stdio"
	"github.com/extendhq/extend-mcp-server-go/tools"
)

type response struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *jsonrpc.Error  `json:"error"`
}

func readResponses(t *testing.T, out *bytes.Buffer) []response {
	t.Helper()
	var resps []response
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		var r response
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		resps = append(resps, r)
	}
	return resps
}

type staticProvider string

func (p staticProvider) CurrentUserID() (string, error) { return string(p), nil }

func TestServeRunsToolsAsConfiguredUser(t *testing.T) {
	var gotKey string
	runner := tools.RunnerFunc(func(ctx context.Context, op string, creds auth.Credentials, args json.RawMessage) (any, error) {
		gotKey = creds.APIKey
		return map[string]any{"virtualCards": []any{}}, nil
	})
	mh, err := mcphttp.New(tools.NewRegistry(runner, tools.AllPermissions()))
	if err != nil {
		t.Fatal(err)
	}

	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		``,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get_virtual_cards","arguments":{}}}`,
		`not json`,
	}, "\n")
	var out bytes.Buffer
	h := stdio.NewHandler(mh,
		stdio.WithIO(strings.NewReader(in), &out),
		stdio.WithUser(auth.UserContext{Credentials: auth.Credentials{APIKey: "apik_local", APISecret: "s"}}),
		stdio.WithUserProvider(staticProvider("tester")),
	)
	if err := h.Serve(context.Background()); err != nil {
		t.Fatal(err)
	}

	resps := readResponses(t, &out)
	if len(resps) != 3 {
		t.Fatalf("got %d responses, want 3: %s", len(resps), out.String())
	}
	if string(resps[0].ID) != "1" || resps[0].Error != nil {
		t.Errorf("initialize = %+v", resps[0])
	}
	if string(resps[1].ID) != "2" || resps[1].Error != nil {
		t.Errorf("tools/call = %+v", resps[1])
	}
	if gotKey != "apik_local" {
		t.Errorf("runner saw key %q", gotKey)
	}
	if resps[2].Error == nil || resps[2].Error.Code != jsonrpc.ErrorCodeParseError {
		t.Errorf("parse error = %+v", resps[2])
	}
}

type recordingDispatcher struct {
	users []*auth.UserContext
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	uc, _ := auth.UserContextFrom(ctx)
	d.users = append(d.users, uc)
	resp, _ := jsonrpc.NewResultResponse(req.ID, struct{}{})
	return resp
}

func TestServeWithoutUser(t *testing.T) {
	d := &recordingDispatcher{}
	var out bytes.Buffer
	h := stdio.NewHandler(d, stdio.WithIO(strings.NewReader(`{"jsonrpc":"2.0","id":"a","method":"ping"}`+"\n"), &out))
	if err := h.Serve(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(d.users) != 1 || d.users[0] != nil {
		t.Fatalf("users = %v", d.users)
	}
	if resps := readResponses(t, &out); len(resps) != 1 || string(resps[0].ID) != `"a"` {
		t.Errorf("responses = %+v", resps)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	h := stdio.NewHandler(&recordingDispatcher{}, stdio.WithIO(r, io.Discard))

	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeRequiresDispatcher(t *testing.T) {
	h := stdio.NewHandler(nil, stdio.WithIO(strings.NewReader(""), io.Discard))
	if err := h.Serve(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
