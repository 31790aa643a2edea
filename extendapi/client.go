// Package extendapi is a small client for the Extend REST API. It implements
// tools.Runner for the read operations the MCP server exposes and doubles as
// the credential validator used during authorization.
package extendapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/extendhq/extend-mcp-server-go/auth"
	"github.com/extendhq/extend-mcp-server-go/tools"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	// DefaultBaseURL is the production API host.
	DefaultBaseURL = "https://apiv2.paywithextend.com"

	// DefaultAPIVersion is sent as the Accept header.
	DefaultAPIVersion = "application/vnd.paywithextend.v2021-03-12+json"

	// DefaultHTTPTimeout bounds a single attempt.
	DefaultHTTPTimeout = 30 * time.Second

	maxErrorBody = 512
)

// ErrInvalidCredentials is returned when the API rejects the key/secret pair.
var ErrInvalidCredentials = errors.New("extend api: invalid credentials")

// APIError is a non-2xx response from the API.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("extend api %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("extend api %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Client calls the Extend API with per-call credentials. It holds no
// credentials of its own and is safe for concurrent use.
type Client struct {
	baseURL    string
	apiVersion string
	http       *retryablehttp.Client
	log        *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at another host (tests, sandboxes).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithAPIVersion overrides the Accept header.
func WithAPIVersion(v string) ClientOption {
	return func(c *Client) { c.apiVersion = v }
}

// WithRetry sets the retry budget and backoff bounds for 429 and 5xx
// responses and transport errors.
func WithRetry(max int, waitMin, waitMax time.Duration) ClientOption {
	return func(c *Client) {
		c.http.RetryMax = max
		c.http.RetryWaitMin = waitMin
		c.http.RetryWaitMax = waitMax
	}
}

// WithHTTPClient sets the underlying transport client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http.HTTPClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// NewClient constructs a Client.
func NewClient(opts ...ClientOption) *Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	rc.RetryMax = 3
	rc.RetryWaitMin = 250 * time.Millisecond
	rc.RetryWaitMax = 3 * time.Second
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		baseURL:    DefaultBaseURL,
		apiVersion: DefaultAPIVersion,
		http:       rc,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.Logger = c.log
	return c
}

var _ tools.Runner = (*Client)(nil)

// Run implements tools.Runner. args is the normalized encoding of the
// operation's args struct from package tools.
func (c *Client) Run(ctx context.Context, op string, creds auth.Credentials, args json.RawMessage) (any, error) {
	path, query, err := route(op, args)
	if err != nil {
		return nil, err
	}
	return c.get(ctx, op, creds, path, query)
}

// ValidateCredentials performs the cheapest authenticated read to confirm
// the key/secret pair. A 401 or 403 yields ErrInvalidCredentials; other
// failures are returned as is.
func (c *Client) ValidateCredentials(ctx context.Context, creds auth.Credentials) error {
	if creds.APIKey == "" || creds.APISecret == "" {
		return ErrInvalidCredentials
	}
	_, err := c.get(ctx, tools.OpGetVirtualCards, creds, "/virtualcards", url.Values{"page": {"0"}, "perPage": {"1"}})
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	return err
}

func route(op string, raw json.RawMessage) (string, url.Values, error) {
	q := url.Values{}
	switch op {
	case tools.OpGetVirtualCards:
		var a tools.VirtualCardsArgs
		if err := unmarshal(raw, &a); err != nil {
			return "", nil, err
		}
		setPage(q, a.Page, a.PerPage)
		setIf(q, "status", a.Status)
		setIf(q, "recipient", a.Recipient)
		setIf(q, "search", a.SearchTerm)
		return "/virtualcards", q, nil

	case tools.OpGetVirtualCardDetail:
		var a tools.VirtualCardArgs
		if err := unmarshal(raw, &a); err != nil {
			return "", nil, err
		}
		return "/virtualcards/" + url.PathEscape(a.VirtualCardID), nil, nil

	case tools.OpGetCreditCards:
		var a tools.CreditCardsArgs
		if err := unmarshal(raw, &a); err != nil {
			return "", nil, err
		}
		setPage(q, a.Page, a.PerPage)
		setIf(q, "status", a.Status)
		setIf(q, "search", a.SearchTerm)
		return "/creditcards", q, nil

	case tools.OpGetCreditCardDetail:
		var a tools.CreditCardArgs
		if err := unmarshal(raw, &a); err != nil {
			return "", nil, err
		}
		return "/creditcards/" + url.PathEscape(a.CreditCardID), nil, nil

	case tools.OpGetTransactions:
		var a tools.TransactionsArgs
		if err := unmarshal(raw, &a); err != nil {
			return "", nil, err
		}
		setPage(q, a.Page, a.PerPage)
		setIf(q, "since", a.StartDate)
		setIf(q, "until", a.EndDate)
		setIf(q, "virtualCardId", a.VirtualCardID)
		if a.MinAmountCents != nil {
			q.Set("minClearingBillingCents", strconv.FormatInt(*a.MinAmountCents, 10))
		}
		if a.MaxAmountCents != nil {
			q.Set("maxClearingBillingCents", strconv.FormatInt(*a.MaxAmountCents, 10))
		}
		return "/reports/transactions/v2", q, nil

	case tools.OpGetTransactionDetail:
		var a tools.TransactionArgs
		if err := unmarshal(raw, &a); err != nil {
			return "", nil, err
		}
		return "/transactions/" + url.PathEscape(a.TransactionID), nil, nil

	case tools.OpGetExpenseCategories:
		var a tools.ExpenseCategoriesArgs
		if err := unmarshal(raw, &a); err != nil {
			return "", nil, err
		}
		if a.Active != nil {
			q.Set("active", strconv.FormatBool(*a.Active))
		}
		if a.Required != nil {
			q.Set("required", strconv.FormatBool(*a.Required))
		}
		setIf(q, "search", a.Search)
		setIf(q, "sortField", a.SortField)
		setIf(q, "sortDirection", a.SortDirection)
		return "/expensecategories", q, nil

	case tools.OpGetExpenseCategory:
		var a tools.ExpenseCategoryArgs
		if err := unmarshal(raw, &a); err != nil {
			return "", nil, err
		}
		return "/expensecategories/" + url.PathEscape(a.CategoryID), nil, nil
	}
	return "", nil, fmt.Errorf("extend api: unsupported operation %q", op)
}

func unmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("extend api: decode arguments: %w", err)
	}
	return nil
}

func setPage(q url.Values, page, perPage int) {
	q.Set("page", strconv.Itoa(page))
	if perPage > 0 {
		q.Set("perPage", strconv.Itoa(perPage))
	}
}

func setIf(q url.Values, key, v string) {
	if v != "" {
		q.Set(key, v)
	}
}

func (c *Client) get(ctx context.Context, op string, creds auth.Credentials, path string, query url.Values) (any, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", c.apiVersion)
	req.Header.Set("Authorization", "Basic "+basicAuth(creds))
	req.Header.Set("x-extend-api-key", creds.APIKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.WarnContext(ctx, "extendapi.request.fail",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("extend api %s: %w", op, err)
	}
	defer resp.Body.Close()

	c.log.DebugContext(ctx, "extendapi.request",
		slog.String("op", op),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("extend api %s: decode response: %w", op, err)
	}
	return out, nil
}

func basicAuth(creds auth.Credentials) string {
	return base64.StdEncoding.EncodeToString([]byte(creds.APIKey + ":" + creds.APISecret))
}
