// Package content retrieves documents from the content backend.
//
// The backend contract is a single endpoint: POST {"url": "..."} to the
// backend root, answered with a JSON object {"html": "...", "summary": "..."}.
// The html field holds the body markup to render; summary may be empty.
//
// A [Client] issues exactly one request per [Client.Fetch] call. It neither
// caches nor retries; deadlines come from the caller's context.
package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxreader/internal/observe"
)

// maxResponseBytes caps the size of a backend response.
const maxResponseBytes = 16 << 20

// ErrDecode is returned when the backend answered 2xx with a body that does
// not follow the {"html", "summary"} contract.
var ErrDecode = errors.New("content: malformed backend response")

// Document is one successfully fetched page.
type Document struct {
	// SourceURL is the URL the user submitted.
	SourceURL string

	// BodyMarkup is the HTML to render into the content host.
	BodyMarkup string

	// Summary is the backend's summary of the page. May be empty.
	Summary string
}

// NetworkError reports a failed round trip to the backend: a transport
// failure or a non-2xx status.
type NetworkError struct {
	// Op is "fetch" or "translate".
	Op string

	// URL is the backend URL that was called.
	URL string

	// StatusCode is the HTTP status, or zero for transport failures.
	StatusCode int

	// Err is the transport error, or a description of the failed status.
	Err error
}

// Error implements error.
func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("content: %s %s: status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("content: %s %s: %v", e.Op, e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error { return e.Err }

// Fetcher is the interface the application uses to load documents.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Document, error)
}

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithHTTPClient overrides the HTTP client. Its transport is used as is, so
// callers that want tracing must wrap it themselves.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(cl *Client) {
		cl.metrics = m
	}
}

// Client talks to the content backend.
type Client struct {
	baseURL string
	http    *http.Client
	metrics *observe.Metrics
}

// NewClient returns a Client for the backend rooted at baseURL
// (e.g. "http://localhost:5000").
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("content: backend URL must not be empty")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// BaseURL returns the backend root this client posts to.
func (c *Client) BaseURL() string { return c.baseURL }

// HTTPClient returns the HTTP client, so sibling clients (translation) can
// share the connection pool.
func (c *Client) HTTPClient() *http.Client { return c.http }

// fetchRequest is the JSON body posted to the backend root.
type fetchRequest struct {
	URL string `json:"url"`
}

// fetchResponse is the JSON body the backend answers with. Pointer fields
// distinguish a missing html key from an empty document.
type fetchResponse struct {
	HTML    *string `json:"html"`
	Summary string  `json:"summary"`
}

// Fetch posts url to the backend and returns the rendered document.
// Transport failures and non-2xx answers yield a *NetworkError; a 2xx answer
// that does not decode yields an error wrapping [ErrDecode].
func (c *Client) Fetch(ctx context.Context, url string) (doc *Document, err error) {
	ctx, span := observe.StartSpan(ctx, "content.fetch")
	span.SetAttributes(attribute.String("content.url", url))
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.metrics.FetchDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("status", status)))
		observe.EndSpan(span, err)
	}()

	body, err := json.Marshal(fetchRequest{URL: url})
	if err != nil {
		return nil, fmt.Errorf("content: encode request: %w", err)
	}
	endpoint := c.baseURL + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("content: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "fetch", URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &NetworkError{Op: "fetch", URL: endpoint, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &NetworkError{
			Op:         "fetch",
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(raw))),
		}
	}

	var fr fetchResponse
	if err := json.Unmarshal(raw, &fr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if fr.HTML == nil {
		return nil, fmt.Errorf("%w: missing html field", ErrDecode)
	}

	observe.Logger(ctx).Debug("content: fetched", "url", url, "bytes", len(*fr.HTML), "has_summary", fr.Summary != "")
	return &Document{SourceURL: url, BodyMarkup: *fr.HTML, Summary: fr.Summary}, nil
}

// Ensure Client implements Fetcher at compile time.
var _ Fetcher = (*Client)(nil)
