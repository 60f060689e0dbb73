// Package network is the HTTP surface of the engine. It wraps
// hashicorp/go-retryablehttp so callers can opt into retries with
// exponential backoff; by default no request is retried.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// DefaultTimeout bounds a request when the caller passes no timeout.
const DefaultTimeout = 30 * time.Second

// bodyExcerptLimit caps how much of an error body is kept for diagnostics.
const bodyExcerptLimit = 512

// RetryPolicy is opt-in: retries happen only when MaxAttempts > 1, and never
// for non-idempotent methods.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Options tune a single request.
type Options struct {
	Timeout   time.Duration
	Retry     RetryPolicy
	ParseJSON bool
}

// Response is the outcome of a successful (2xx) request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// JSON is the decoded body when Options.ParseJSON was set.
	JSON any
}

// Error is the structured failure of a non-2xx response.
type Error struct {
	Status      int
	BodyExcerpt string
	Kind        string
}

func (e *Error) Error() string {
	return fmt.Sprintf("http %s (%d): %s", e.Kind, e.Status, e.BodyExcerpt)
}

// Client issues HTTP requests with a process-wide default header map.
// Per-call headers override defaults key by key.
type Client struct {
	mu             sync.RWMutex
	defaultHeaders map[string]string
	transport      http.RoundTripper
}

func NewClient() *Client {
	return &Client{defaultHeaders: map[string]string{}}
}

// SetDefaultHeader sets a header applied to every request.
func (c *Client) SetDefaultHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultHeaders[key] = value
}

// SetTransport overrides the underlying round tripper (used in tests and by
// hosts with pinned TLS).
func (c *Client) SetTransport(rt http.RoundTripper) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = rt
}

// Request performs an HTTP call and reads the whole body.
// On non-2xx the returned error is *Error carrying the status and a body
// excerpt; the Response is still returned for header inspection.
func (c *Client) Request(ctx context.Context, method, url string, body []byte, headers map[string]string, opts Options) (*Response, error) {
	resp, err := c.do(ctx, method, url, body, headers, opts)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body from %s: %w", url, err)
	}
	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: payload}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &Error{Status: resp.StatusCode, BodyExcerpt: excerpt(payload), Kind: kindForStatus(resp.StatusCode)}
	}
	if opts.ParseJSON {
		if err := json.Unmarshal(payload, &out.JSON); err != nil {
			return out, fmt.Errorf("decoding JSON response from %s: %w", url, err)
		}
	}
	return out, nil
}

// Get fetches a URL with default options.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return c.Request(ctx, http.MethodGet, url, nil, headers, Options{})
}

// Head probes a URL. A 2xx status counts as existing.
func (c *Client) Head(ctx context.Context, url string) (bool, error) {
	resp, err := c.do(ctx, http.MethodHead, url, nil, nil, Options{})
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode <= 299, nil
}

// Stream performs a GET and hands the body to the caller for streaming
// consumption. The caller must close it. Non-2xx statuses are returned as
// *Error with the body drained into the excerpt.
func (c *Client) Stream(ctx context.Context, url string, headers map[string]string, timeout time.Duration) (io.ReadCloser, int64, error) {
	resp, err := c.do(ctx, http.MethodGet, url, nil, headers, Options{Timeout: timeout})
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, bodyExcerptLimit))
		resp.Body.Close()
		return nil, 0, &Error{Status: resp.StatusCode, BodyExcerpt: excerpt(payload), Kind: kindForStatus(resp.StatusCode)}
	}
	return resp.Body, resp.ContentLength, nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, headers map[string]string, opts Options) (*http.Response, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	// cancel must survive this function: the response body may still be
	// streaming. Tie it to body close instead.
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}
	c.applyHeaders(req.Request, headers)

	resp, err := c.newRetryClient(method, opts.Retry).Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (c *Client) applyHeaders(req *http.Request, headers map[string]string) {
	c.mu.RLock()
	for key, value := range c.defaultHeaders {
		req.Header.Set(key, value)
	}
	c.mu.RUnlock()
	for key, value := range headers {
		req.Header.Set(key, value)
	}
}

func (c *Client) newRetryClient(method string, policy RetryPolicy) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 0
	// hand the last non-2xx response back instead of a bare "giving up"
	// error, so Request and Stream can build a structured *Error from it
	client.ErrorHandler = func(resp *http.Response, err error, _ int) (*http.Response, error) {
		if resp != nil {
			return resp, nil
		}
		return nil, err
	}
	if policy.MaxAttempts > 1 && isIdempotent(method) {
		client.RetryMax = policy.MaxAttempts - 1
		if policy.Backoff > 0 {
			client.RetryWaitMin = policy.Backoff
			client.RetryWaitMax = policy.Backoff * 16
		}
	}
	c.mu.RLock()
	if c.transport != nil {
		client.HTTPClient.Transport = c.transport
	}
	c.mu.RUnlock()
	return client
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func kindForStatus(status int) string {
	switch {
	case status >= 500:
		return "server_error"
	case status == http.StatusTooManyRequests:
		return "throttled"
	case status >= 400:
		return "client_error"
	default:
		return "unexpected_status"
	}
}

func excerpt(body []byte) string {
	if len(body) > bodyExcerptLimit {
		body = body[:bodyExcerptLimit]
	}
	return string(body)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
