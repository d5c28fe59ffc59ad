package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTokenResponse(t *testing.T) {
	issuedAt := time.Now()
	body := []byte(`{"access_token":"abc","token_type":"Bearer","expires_in":60,"refresh_token":"xyz","scope":"api","unknown_field":1}`)

	token, err := parseTokenResponse(body, issuedAt)
	require.NoError(t, err)

	assert.Equal(t, "abc", token.AccessToken)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.Equal(t, "xyz", token.RefreshToken)
	assert.True(t, token.ExpiresAt.Equal(issuedAt.Add(60*time.Second)))
}

func TestParseTokenResponseDefaultsTokenType(t *testing.T) {
	token, err := parseTokenResponse([]byte(`{"access_token":"abc"}`), time.Now())
	require.NoError(t, err)

	assert.Equal(t, "Bearer", token.TokenType)
	assert.True(t, token.ExpiresAt.IsZero())
	assert.Empty(t, token.RefreshToken)
}

func TestParseTokenResponseRequiresAccessToken(t *testing.T) {
	_, err := parseTokenResponse([]byte(`{"token_type":"Bearer"}`), time.Now())
	assert.Error(t, err)
}

func TestParseTokenResponseRejectsBadJSON(t *testing.T) {
	_, err := parseTokenResponse([]byte(`not json`), time.Now())
	assert.Error(t, err)
}

func TestTokenHeaderValue(t *testing.T) {
	assert.Equal(t, "Bearer abc", Token{AccessToken: "abc", TokenType: "Bearer"}.HeaderValue())
	assert.Equal(t, "Bearer abc", Token{AccessToken: "abc"}.HeaderValue())
	assert.Equal(t, "MAC abc", Token{AccessToken: "abc", TokenType: "MAC"}.HeaderValue())
}

func TestTokenExpired(t *testing.T) {
	now := time.Now()

	// A short-lived token is already inside the skew window right after issue.
	short := Token{AccessToken: "abc", ExpiresAt: now.Add(time.Second)}
	assert.True(t, short.expired(DefaultExpirySkew, now))
	assert.True(t, short.expired(DefaultExpirySkew, now.Add(2*time.Second)))

	long := Token{AccessToken: "abc", ExpiresAt: now.Add(time.Hour)}
	assert.False(t, long.expired(DefaultExpirySkew, now))
	assert.True(t, long.expired(DefaultExpirySkew, now.Add(time.Hour)))

	// No declared expiry: only a 401 downstream can prove it dead.
	assert.False(t, Token{AccessToken: "abc"}.expired(DefaultExpirySkew, now))

	// No access token at all is always expired.
	assert.True(t, Token{RefreshToken: "xyz"}.expired(DefaultExpirySkew, now))
}
