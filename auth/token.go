package auth

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultExpirySkew is subtracted from the token expiry when deciding whether
// a refresh is due, so tokens are renewed before they actually lapse.
const DefaultExpirySkew = 30 * time.Second

// Token is an immutable snapshot of issued credentials. It is replaced
// wholesale on every refresh and never mutated in place.
type Token struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresAt is the absolute expiry. The zero value means the server did
	// not declare a lifetime; such tokens are treated as non-expiring until a
	// 401 at the HTTP layer proves otherwise.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// HeaderValue renders the Authorization header value for the token.
func (t Token) HeaderValue() string {
	typ := t.TokenType
	if typ == "" {
		typ = "Bearer"
	}
	return typ + " " + t.AccessToken
}

// expired reports whether the token must be renewed, applying the safety
// skew. A token without a declared expiry never expires from this check's
// perspective.
func (t Token) expired(skew time.Duration, now time.Time) bool {
	if t.AccessToken == "" {
		return true
	}
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !t.ExpiresAt.Add(-skew).After(now)
}

// tokenResponse is the token endpoint's wire format. Unknown fields are
// ignored.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// parseTokenResponse decodes a token endpoint response body into a Token.
// The expires_in lifetime is anchored to the moment the request was issued.
func parseTokenResponse(body []byte, issuedAt time.Time) (Token, error) {
	var wire tokenResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return Token{}, fmt.Errorf("decoding token response: %w", err)
	}
	if wire.AccessToken == "" {
		return Token{}, fmt.Errorf("token response missing access_token")
	}

	token := Token{
		AccessToken:  wire.AccessToken,
		TokenType:    wire.TokenType,
		RefreshToken: wire.RefreshToken,
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}
	if wire.ExpiresIn > 0 {
		token.ExpiresAt = issuedAt.Add(time.Duration(wire.ExpiresIn) * time.Second)
	}
	return token, nil
}
