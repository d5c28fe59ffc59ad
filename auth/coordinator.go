package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/cruds-go/cruds/retryhttp"
)

// Authenticator coordinates the credential lifecycle for one client
// instance: it decides when the cached token is still usable, drives the
// configured grant to acquire or refresh one, and renders the Authorization
// header. Safe for concurrent use; at most one token request is ever in
// flight per instance.
type Authenticator struct {
	cfg      Config
	grant    grantType
	skew     time.Duration
	tokens   *encryptedStore
	states   stateGuard
	exchange *tokenClient
	group    singleflight.Group
}

// Option customizes an Authenticator.
type Option func(*options)

type options struct {
	httpClient *http.Client
	policy     retryhttp.Policy
}

// WithHTTPClient replaces the HTTP client used for token endpoint requests.
// The caller is responsible for any retry behavior of the supplied client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithRetryPolicy overrides the retry policy for token endpoint requests.
func WithRetryPolicy(policy retryhttp.Policy) Option {
	return func(o *options) { o.policy = policy }
}

// New builds an Authenticator from the configuration. The grant protocol is
// selected here, once: password when user credentials are present, the
// authorization code flow when an authorization endpoint is configured,
// client credentials otherwise.
func New(cfg Config, opts ...Option) (*Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Transport: retryhttp.New(o.policy)}
	}

	key := cfg.EncryptionKey
	if key == nil {
		slog.Warn("no explicit encryption key configured, deriving one from the client secret; " +
			"an explicit key is recommended for production")
		key = deriveKey(cfg.ClientSecret)
	}
	store, err := newEncryptedStore(key)
	if err != nil {
		return nil, err
	}

	skew := cfg.ExpirySkew
	if skew <= 0 {
		skew = DefaultExpirySkew
	}

	a := &Authenticator{
		cfg:      cfg,
		grant:    grantFor(cfg),
		skew:     skew,
		tokens:   store,
		exchange: &tokenClient{cfg: cfg, http: o.httpClient},
	}
	slog.Debug("authenticator configured", "grant", a.grant.String())
	return a, nil
}

// GrantType names the protocol selected at construction.
func (a *Authenticator) GrantType() string {
	return a.grant.String()
}

// HeaderValue returns a current Authorization header value, acquiring or
// refreshing the underlying token first when needed. Concurrent callers
// arriving while a token request is in flight block and share its result.
func (a *Authenticator) HeaderValue(ctx context.Context) (string, error) {
	token, ok, err := a.tokens.Read()
	if err != nil {
		return "", err
	}
	if ok && !token.expired(a.skew, time.Now()) {
		return token.HeaderValue(), nil
	}

	// The flight key is constant: one credential set per instance.
	value, err, _ := a.group.Do("token", func() (any, error) {
		return a.renew(ctx)
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// renew runs inside the single flight. It re-checks the store first because
// another caller may have completed a renewal while this one was queued.
func (a *Authenticator) renew(ctx context.Context) (string, error) {
	token, ok, err := a.tokens.Read()
	if err != nil {
		return "", err
	}
	if ok && !token.expired(a.skew, time.Now()) {
		return token.HeaderValue(), nil
	}

	var next Token
	switch {
	case ok && token.RefreshToken != "":
		slog.DebugContext(ctx, "refreshing access token")
		next, err = a.exchange.refresh(ctx, token.RefreshToken)
		if errors.Is(err, ErrReauthenticationRequired) {
			// The refresh token is permanently dead; fall back to a full
			// acquire rather than retrying the same refresh request.
			a.tokens.Clear()
			next, err = a.acquireNew(ctx)
		}
	default:
		next, err = a.acquireNew(ctx)
	}
	if err != nil {
		return "", err
	}

	if err := a.tokens.Write(next); err != nil {
		return "", err
	}
	return next.HeaderValue(), nil
}

// acquireNew performs a full acquire for non-interactive grants. The
// authorization code grant cannot acquire without a user round-trip, so it
// surfaces ErrReauthenticationRequired instead.
func (a *Authenticator) acquireNew(ctx context.Context) (Token, error) {
	if a.grant == grantAuthorizationCode {
		return Token{}, fmt.Errorf("%w: authorization code grant needs a new interactive authorization",
			ErrReauthenticationRequired)
	}
	slog.DebugContext(ctx, "acquiring access token", "grant", a.grant.String())
	return a.exchange.acquire(ctx, a.grant)
}

// Invalidate discards the cached token. The request layer calls this after a
// downstream 401 despite a seemingly valid token (clock skew, server-side
// revocation) so the next HeaderValue forces a renewal.
func (a *Authenticator) Invalidate() {
	a.tokens.Clear()
}

// SeedRefreshToken primes the store with a refresh token obtained earlier,
// for example one persisted by a CLI login. The first HeaderValue call will
// exchange it for an access token.
func (a *Authenticator) SeedRefreshToken(refreshToken string) error {
	if refreshToken == "" {
		return fmt.Errorf("refresh token cannot be empty")
	}
	return a.tokens.Write(Token{RefreshToken: refreshToken})
}

// RefreshToken exposes the current refresh token so callers that persist it
// (the CLI login flow) can do so. Empty when none is held.
func (a *Authenticator) RefreshToken() (string, error) {
	token, ok, err := a.tokens.Read()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return token.RefreshToken, nil
}

// AuthorizationURL begins the authorization code flow: it mints a fresh CSRF
// state and builds the redirect URL for the authorization endpoint. No
// network request is made. Each call supersedes the previous pending state.
func (a *Authenticator) AuthorizationURL() (string, error) {
	if a.grant != grantAuthorizationCode {
		return "", fmt.Errorf("authorization URL requires the authorization code grant, have %s", a.grant)
	}

	state, err := a.states.Issue()
	if err != nil {
		return "", err
	}

	conf := oauth2.Config{
		ClientID:     a.cfg.ClientID,
		ClientSecret: a.cfg.ClientSecret,
		RedirectURL:  a.cfg.RedirectURL,
		Scopes:       strings.Fields(a.cfg.Scope),
		Endpoint: oauth2.Endpoint{
			AuthURL:  a.cfg.AuthorizeURL,
			TokenURL: a.cfg.TokenURL,
		},
	}
	return conf.AuthCodeURL(state), nil
}

// ExchangeCallback completes the authorization code flow from the raw
// callback URL the user was redirected to. The state is validated before the
// code is sent anywhere; validation failures abort the exchange with
// AuthorizationResponseError and are never retried.
func (a *Authenticator) ExchangeCallback(ctx context.Context, rawCallbackURL string) error {
	if a.grant != grantAuthorizationCode {
		return fmt.Errorf("callback exchange requires the authorization code grant, have %s", a.grant)
	}

	callback, err := url.Parse(rawCallbackURL)
	if err != nil {
		return &AuthorizationResponseError{Reason: "unparseable callback URL"}
	}
	query := callback.Query()

	if errCode := query.Get("error"); errCode != "" {
		return &AuthorizationResponseError{Reason: "authorization server returned error " + errCode}
	}
	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		return &AuthorizationResponseError{Reason: "callback missing code or state parameter"}
	}

	if err := a.states.Consume(state); err != nil {
		return err
	}

	token, err := a.exchange.exchangeCode(ctx, code)
	if err != nil {
		return err
	}
	return a.tokens.Write(token)
}
