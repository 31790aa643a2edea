package extendapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/extendhq/extend-mcp-server-go/auth"
	"github.com/extendhq/extend-mcp-server-go/extendapi"
	"github.com/extendhq/extend-mcp-server-go/tools"
)

var creds = auth.Credentials{APIKey: "apik_abc", APISecret: "shh"}

func newClient(t *testing.T, h http.HandlerFunc) *extendapi.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return extendapi.NewClient(
		extendapi.WithBaseURL(srv.URL+"/"),
		extendapi.WithRetry(2, time.Millisecond, 5*time.Millisecond),
		extendapi.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func TestRunRoutes(t *testing.T) {
	tests := []struct {
		op        string
		args      string
		wantPath  string
		wantQuery string
	}{
		{tools.OpGetVirtualCards, `{"page":2,"per_page":5,"status":"ACTIVE","search_term":"travel"}`, "/virtualcards", "page=2&perPage=5&search=travel&status=ACTIVE"},
		{tools.OpGetVirtualCardDetail, `{"virtual_card_id":"vc/1"}`, "/virtualcards/vc%2F1", ""},
		{tools.OpGetCreditCards, `{"per_page":10}`, "/creditcards", "page=0&perPage=10"},
		{tools.OpGetCreditCardDetail, `{"credit_card_id":"cc_1"}`, "/creditcards/cc_1", ""},
		{tools.OpGetTransactions, `{"per_page":50,"start_date":"2025-01-01","end_date":"2025-01-31","virtual_card_id":"vc_9","min_amount_cents":100,"max_amount_cents":0}`, "/reports/transactions/v2", "maxClearingBillingCents=0&minClearingBillingCents=100&page=0&perPage=50&since=2025-01-01&until=2025-01-31&virtualCardId=vc_9"},
		{tools.OpGetTransactionDetail, `{"transaction_id":"txn_1"}`, "/transactions/txn_1", ""},
		{tools.OpGetExpenseCategories, `{"active":false,"sort_direction":"ASC"}`, "/expensecategories", "active=false&sortDirection=ASC"},
		{tools.OpGetExpenseCategory, `{"category_id":"ec_1"}`, "/expensecategories/ec_1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			var gotPath, gotQuery string
			c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.EscapedPath()
				gotQuery = r.URL.Query().Encode()
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"ok":true}`))
			})
			out, err := c.Run(context.Background(), tt.op, creds, json.RawMessage(tt.args))
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if gotPath != tt.wantPath {
				t.Errorf("path = %q, want %q", gotPath, tt.wantPath)
			}
			if gotQuery != tt.wantQuery {
				t.Errorf("query = %q, want %q", gotQuery, tt.wantQuery)
			}
			if m, ok := out.(map[string]any); !ok || m["ok"] != true {
				t.Errorf("out = %#v", out)
			}
		})
	}
}

func TestRunSendsCredentialHeaders(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != creds.APIKey || pass != creds.APISecret {
			t.Errorf("basic auth = %q:%q (%v)", user, pass, ok)
		}
		if got := r.Header.Get("x-extend-api-key"); got != creds.APIKey {
			t.Errorf("x-extend-api-key = %q", got)
		}
		if got := r.Header.Get("Accept"); got != extendapi.DefaultAPIVersion {
			t.Errorf("Accept = %q", got)
		}
		_, _ = w.Write([]byte(`{}`))
	})
	if _, err := c.Run(context.Background(), tools.OpGetCreditCards, creds, nil); err != nil {
		t.Fatal(err)
	}
}

func TestRunRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"virtualCards":[]}`))
	})
	if _, err := c.Run(context.Background(), tools.OpGetVirtualCards, creds, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("attempts = %d, want 3", hits.Load())
	}
}

func TestRunReturnsAPIError(t *testing.T) {
	var hits atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	})
	_, err := c.Run(context.Background(), tools.OpGetTransactionDetail, creds, json.RawMessage(`{"transaction_id":"nope"}`))
	var apiErr *extendapi.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Body != `{"error":"not found"}` {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if hits.Load() != 1 {
		t.Errorf("4xx retried %d times", hits.Load())
	}
}

func TestRunUnsupportedOperation(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	if _, err := c.Run(context.Background(), "create_virtual_card", creds, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestValidateCredentials(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		creds       auth.Credentials
		wantInvalid bool
		wantErr     bool
	}{
		{name: "ok", status: http.StatusOK, creds: creds},
		{name: "unauthorized", status: http.StatusUnauthorized, creds: creds, wantInvalid: true, wantErr: true},
		{name: "forbidden", status: http.StatusForbidden, creds: creds, wantInvalid: true, wantErr: true},
		{name: "empty secret", status: http.StatusOK, creds: auth.Credentials{APIKey: "apik_abc"}, wantInvalid: true, wantErr: true},
		{name: "upstream down", status: http.StatusBadGateway, creds: creds, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/virtualcards" || r.URL.Query().Get("perPage") != "1" {
					t.Errorf("unexpected probe %s", r.URL)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{}`))
			})
			err := c.ValidateCredentials(context.Background(), tt.creds)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, extendapi.ErrInvalidCredentials) != tt.wantInvalid {
				t.Errorf("errors.Is(ErrInvalidCredentials) = %v, want %v (err %v)", !tt.wantInvalid, tt.wantInvalid, err)
			}
		})
	}
}
