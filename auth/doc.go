// Package auth manages the OAuth2 credential lifecycle for a client
// instance: token acquisition and refresh across the client credentials,
// resource owner password, and authorization code grants, with the token
// state encrypted at rest in memory.
//
// An Authenticator guarantees at most one token request in flight at a time;
// concurrent callers asking for a header while a renewal runs block and share
// its result.
//
// # Non-interactive grants
//
// Client credentials (and password, when username/password are configured)
// need no user round-trip:
//
//	authn, err := auth.New(auth.Config{
//		TokenURL:     "https://idp.example.com/oauth/token",
//		ClientID:     clientID,
//		ClientSecret: clientSecret,
//		Scope:        "api",
//	})
//	header, err := authn.HeaderValue(ctx) // "Bearer ..."
//
// # Authorization code flow
//
// Configure AuthorizeURL and RedirectURL, send the user to AuthorizationURL,
// and hand the redirect back to ExchangeCallback. The embedded state
// parameter is single-use and validated in constant time; a mismatch aborts
// the exchange before any code leaves the process.
//
//	authURL, err := authn.AuthorizationURL()
//	// user authorizes, browser is redirected to RedirectURL?code=...&state=...
//	err = authn.ExchangeCallback(ctx, rawRedirectURL)
//
// # Encryption at rest
//
// Token material is held AES-256-GCM encrypted in memory. Supply an explicit
// 32-byte Config.EncryptionKey; without one the key is derived from the
// client secret, which is weaker and logged as a warning at construction.
package auth
