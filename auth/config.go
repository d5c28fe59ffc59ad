package auth

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// AuthorizationDetail is one Rich Authorization Request object (RFC 9396),
// attached verbatim to the token request. Every detail carries at least a
// "type" key plus operation-specific members.
type AuthorizationDetail map[string]any

// Config is the immutable credential configuration for one client instance.
// It is fixed at construction and never changes for the client's lifetime.
type Config struct {
	// TokenURL is the token endpoint.
	TokenURL string `validate:"required,url"`

	// AuthorizeURL enables the authorization code grant when set.
	AuthorizeURL string `validate:"omitempty,url"`

	// RedirectURL is where the authorization server sends the user back.
	// Required with AuthorizeURL.
	RedirectURL string `validate:"required_with=AuthorizeURL,omitempty,url"`

	ClientID     string `validate:"required"`
	ClientSecret string

	// Scope is a space-separated list of requested scopes.
	Scope string

	// Username and Password select the resource owner password grant when
	// both are present.
	Username string
	Password string `validate:"required_with=Username"`

	// AuthorizationDetails are optional RFC 9396 objects for the token
	// request body.
	AuthorizationDetails []AuthorizationDetail

	// EncryptionKey protects the in-memory token state. When absent, a key
	// is derived from the client secret; an explicit key is recommended for
	// production.
	EncryptionKey []byte `validate:"omitempty,len=32"`

	// ExpirySkew overrides DefaultExpirySkew when positive.
	ExpirySkew time.Duration
}

// Validate checks the configuration for structural problems.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid auth config: %w", err)
	}
	for i, detail := range c.AuthorizationDetails {
		if _, ok := detail["type"]; !ok {
			return fmt.Errorf("invalid auth config: authorization detail %d missing required \"type\" member", i)
		}
	}
	return nil
}

// grantType is the protocol used to obtain a token, fixed at construction by
// inspecting the configuration once.
type grantType int

const (
	grantClientCredentials grantType = iota
	grantPassword
	grantAuthorizationCode
)

func (g grantType) String() string {
	switch g {
	case grantClientCredentials:
		return "client_credentials"
	case grantPassword:
		return "password"
	case grantAuthorizationCode:
		return "authorization_code"
	default:
		return "unknown"
	}
}

// grantFor selects the grant from the configuration. Human-user credentials
// take precedence, then an interactive authorization endpoint, then plain
// client credentials.
func grantFor(cfg Config) grantType {
	if cfg.Username != "" && cfg.Password != "" {
		return grantPassword
	}
	if cfg.AuthorizeURL != "" {
		return grantAuthorizationCode
	}
	return grantClientCredentials
}
