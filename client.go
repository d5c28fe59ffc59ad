package cruds

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/cruds-go/cruds/retryhttp"
)

// maxResponseBytes bounds buffered response bodies (64 MiB).
const maxResponseBytes = 64 << 20

// HeaderSource supplies a current Authorization header value before each
// outbound request. Invalidate is called after a 401 that arrived despite a
// seemingly valid credential, so the next HeaderValue forces a renewal.
type HeaderSource interface {
	HeaderValue(ctx context.Context) (string, error)
	Invalidate()
}

// StaticToken adapts a fixed bearer token to the HeaderSource interface.
type StaticToken string

// Compile-time check that StaticToken implements HeaderSource.
var _ HeaderSource = StaticToken("")

// HeaderValue returns the bearer header for the fixed token.
func (t StaticToken) HeaderValue(context.Context) (string, error) {
	return "Bearer " + string(t), nil
}

// Invalidate is a no-op; a static token cannot be renewed.
func (StaticToken) Invalidate() {}

// BasicAuth adapts username/password credentials to the HeaderSource
// interface.
func BasicAuth(username, password string) HeaderSource {
	encoded := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return StaticHeader("Basic " + encoded)
}

// StaticHeader is a fixed, verbatim Authorization header value.
type StaticHeader string

var _ HeaderSource = StaticHeader("")

func (h StaticHeader) HeaderValue(context.Context) (string, error) {
	return string(h), nil
}

func (StaticHeader) Invalidate() {}

// Client is a REST client bound to one API host. Safe for concurrent use.
type Client struct {
	host        string
	httpClient  *http.Client
	auth        HeaderSource
	serialize   bool
	raiseStatus bool
	ignored     map[int]struct{}
}

// New creates a Client for the given host. By default responses raise
// StatusError on 4xx/5xx, request and response bodies are treated as JSON,
// and requests retry per the default retryhttp policy.
func New(host string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(host)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid host %q", host)
	}
	if !strings.HasSuffix(host, "/") {
		host += "/"
	}

	c := &Client{
		host:        host,
		serialize:   true,
		raiseStatus: true,
		ignored:     map[int]struct{}{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Transport: retryhttp.New(retryhttp.Policy{})}
	}
	return c, nil
}

// Create makes a POST request.
func (c *Client) Create(ctx context.Context, uri string, body any, params url.Values) (*Result, error) {
	return c.do(ctx, http.MethodPost, uri, params, body)
}

// Read makes a GET request.
func (c *Client) Read(ctx context.Context, uri string, params url.Values) (*Result, error) {
	return c.do(ctx, http.MethodGet, uri, params, nil)
}

// Update makes a PATCH request for a partial modification.
func (c *Client) Update(ctx context.Context, uri string, body any, params url.Values) (*Result, error) {
	return c.do(ctx, http.MethodPatch, uri, params, body)
}

// Replace makes a PUT request replacing the entire entity.
func (c *Client) Replace(ctx context.Context, uri string, body any, params url.Values) (*Result, error) {
	return c.do(ctx, http.MethodPut, uri, params, body)
}

// Delete makes a DELETE request.
func (c *Client) Delete(ctx context.Context, uri string, params url.Values) (*Result, error) {
	return c.do(ctx, http.MethodDelete, uri, params, nil)
}

// do performs one logical operation. A 401 despite configured auth
// invalidates the cached credential and retries the whole operation once; a
// second consecutive 401 is surfaced. The body is encoded to bytes up front
// so the retry replays the same payload even for one-shot readers.
func (c *Client) do(ctx context.Context, method, uri string, params url.Values, body any) (*Result, error) {
	data, contentType, err := c.encodeBody(body)
	if err != nil {
		return nil, err
	}

	result, err := c.doOnce(ctx, method, uri, params, data, contentType)
	if err != nil {
		return nil, err
	}

	if result.StatusCode == http.StatusUnauthorized && c.auth != nil {
		slog.DebugContext(ctx, "unauthorized response with configured auth, forcing credential renewal",
			"method", method, "uri", uri)
		c.auth.Invalidate()

		result, err = c.doOnce(ctx, method, uri, params, data, contentType)
		if err != nil {
			return nil, err
		}
	}

	return c.finish(ctx, method, result)
}

// doOnce issues the request a single time through the retrying transport and
// buffers the response.
func (c *Client) doOnce(ctx context.Context, method, uri string, params url.Values, data []byte, contentType string) (*Result, error) {
	target := c.host + strings.TrimLeft(uri, "/")
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reader io.Reader
	if data != nil {
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if c.auth != nil {
		header, err := c.auth.HeaderValue(ctx)
		if err != nil {
			return nil, fmt.Errorf("obtaining authorization header: %w", err)
		}
		if header != "" {
			req.Header.Set("Authorization", header)
		}
	}

	slog.DebugContext(ctx, "api operation", "method", method, "url", req.URL.Redacted())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, uri, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return &Result{StatusCode: resp.StatusCode, Header: resp.Header, body: data}, nil
}

// finish applies the status policy to a buffered response.
func (c *Client) finish(ctx context.Context, method string, result *Result) (*Result, error) {
	slog.DebugContext(ctx, "api response",
		"method", method, "status", result.StatusCode, "bytes", len(result.body))

	if c.raiseStatus && result.StatusCode >= 400 && result.StatusCode < 600 {
		if _, ok := c.ignored[result.StatusCode]; !ok {
			return nil, &StatusError{StatusCode: result.StatusCode, Body: result.body}
		}
	}

	if c.serialize && len(result.body) > 0 && !result.IsJSON() {
		slog.WarnContext(ctx, "response content type is not declared as JSON but serialization is enabled",
			"content_type", result.Header.Get("Content-Type"))
	}
	return result, nil
}

// encodeBody renders the request body to bytes. With serialization enabled,
// arbitrary values are marshaled to JSON; byte slices, strings, and readers
// pass through untouched. Readers are drained here, once, so every attempt
// of the operation sends the same payload.
func (c *Client) encodeBody(body any) ([]byte, string, error) {
	switch payload := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return payload, "", nil
	case string:
		return []byte(payload), "", nil
	case io.Reader:
		data, err := io.ReadAll(payload)
		if err != nil {
			return nil, "", fmt.Errorf("reading request body: %w", err)
		}
		return data, "", nil
	default:
		if !c.serialize {
			return nil, "", fmt.Errorf("cannot send %T without serialization enabled", body)
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, "", fmt.Errorf("serializing request body: %w", err)
		}
		return data, "application/json", nil
	}
}
