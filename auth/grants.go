package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxTokenResponseBytes bounds token endpoint response bodies.
const maxTokenResponseBytes = 1 << 20

// tokenClient performs the token endpoint exchanges shared by all grant
// types. Requests go through the retrying transport of the supplied client;
// definitive 4xx rejections are outside the retryable status set and are
// never re-issued.
type tokenClient struct {
	cfg  Config
	http *http.Client
}

// acquire obtains a brand-new token using the client credentials or resource
// owner password grant.
func (c *tokenClient) acquire(ctx context.Context, grant grantType) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", grant.String())
	if c.cfg.Scope != "" {
		form.Set("scope", c.cfg.Scope)
	}
	if grant == grantPassword {
		form.Set("username", c.cfg.Username)
		form.Set("password", c.cfg.Password)
	}
	if err := c.attachAuthorizationDetails(form); err != nil {
		return Token{}, err
	}

	return c.post(ctx, form, true)
}

// exchangeCode redeems an authorization code. The state parameter must have
// been validated by the caller before any code reaches this point.
func (c *tokenClient) exchangeCode(ctx context.Context, code string) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURL)
	if err := c.attachAuthorizationDetails(form); err != nil {
		return Token{}, err
	}

	return c.post(ctx, form, true)
}

// refresh renews the token using a previously issued refresh token. A
// definitive rejection means the refresh token itself is no longer usable, so
// the failure maps to ErrReauthenticationRequired instead of being retried.
// Other failures, like a rate limit that survived the retry budget, surface
// unchanged and leave the refresh token alone.
func (c *tokenClient) refresh(ctx context.Context, refreshToken string) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	token, err := c.post(ctx, form, false)
	if err != nil {
		var endpointErr *TokenEndpointError
		if errors.As(err, &endpointErr) && refreshTokenDead(endpointErr) {
			slog.DebugContext(ctx, "refresh token rejected by server",
				"status", endpointErr.StatusCode, "code", endpointErr.Code)
			return Token{}, fmt.Errorf("%w: %v", ErrReauthenticationRequired, err)
		}
		return Token{}, err
	}
	return token, nil
}

// refreshTokenDead reports whether a token endpoint rejection proves the
// refresh token is invalid or expired. invalid_grant is the RFC 6749 code
// for exactly that; 400 and 401 without a code are treated the same way.
// Anything else (403 policy denials, 429 rate limits) says nothing about the
// token itself.
func refreshTokenDead(err *TokenEndpointError) bool {
	if err.Code == "invalid_grant" {
		return true
	}
	if err.Code != "" {
		return false
	}
	return err.StatusCode == http.StatusBadRequest || err.StatusCode == http.StatusUnauthorized
}

// attachAuthorizationDetails JSON-encodes the configured RFC 9396 objects
// into the authorization_details form field.
func (c *tokenClient) attachAuthorizationDetails(form url.Values) error {
	if len(c.cfg.AuthorizationDetails) == 0 {
		return nil
	}
	encoded, err := json.Marshal(c.cfg.AuthorizationDetails)
	if err != nil {
		return fmt.Errorf("encoding authorization details: %w", err)
	}
	form.Set("authorization_details", string(encoded))
	return nil
}

// post performs one form-encoded exchange against the token endpoint and
// parses the response. Client credentials travel as HTTP Basic auth when
// basicAuth is set.
func (c *tokenClient) post(ctx context.Context, form url.Values, basicAuth bool) (Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	req.Header.Set("Accept", "application/json")
	if basicAuth {
		req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	}

	issuedAt := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("token request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return Token{}, fmt.Errorf("reading token response: %w", err)
	}

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Token{}, endpointError(resp.StatusCode, body)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		// Retries are already exhausted by the transport at this point.
		return Token{}, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	token, err := parseTokenResponse(body, issuedAt)
	if err != nil {
		return Token{}, err
	}
	return token, nil
}

// endpointError extracts the OAuth error code and description from a 4xx
// token response body when present.
func endpointError(status int, body []byte) *TokenEndpointError {
	var wire struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	// Body may be empty or non-JSON; the status alone is still definitive.
	_ = json.Unmarshal(body, &wire)

	return &TokenEndpointError{
		StatusCode:  status,
		Code:        wire.Error,
		Description: wire.Description,
	}
}
