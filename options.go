package cruds

import (
	"net/http"

	"github.com/cruds-go/cruds/retryhttp"
)

// Option customizes a Client.
type Option func(*Client)

// WithAuth attaches a HeaderSource consulted before each request.
func WithAuth(source HeaderSource) Option {
	return func(c *Client) { c.auth = source }
}

// WithHTTPClient replaces the underlying HTTP client entirely, including any
// retry behavior.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// WithRetryPolicy keeps the retrying transport but overrides its policy.
func WithRetryPolicy(policy retryhttp.Policy) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Transport: retryhttp.New(policy)}
	}
}

// WithoutSerialization disables JSON handling: request bodies must be bytes,
// strings, or readers, and no content-type warning is logged for responses.
func WithoutSerialization() Option {
	return func(c *Client) { c.serialize = false }
}

// WithoutStatusErrors disables StatusError raising; 4xx/5xx responses are
// returned as ordinary Results.
func WithoutStatusErrors() Option {
	return func(c *Client) { c.raiseStatus = false }
}

// WithIgnoredStatuses exempts specific status codes from StatusError raising
// while keeping it enabled for everything else.
func WithIgnoredStatuses(codes ...int) Option {
	return func(c *Client) {
		for _, code := range codes {
			c.ignored[code] = struct{}{}
		}
	}
}
