// Package cruds is a small REST client that maps the four CRUD verbs onto
// HTTP methods: Create (POST), Read (GET), Update (PATCH), Replace (PUT),
// and Delete (DELETE).
//
// Every outbound request runs through a retrying transport with exponential
// backoff for transient failures (see the retryhttp package), and may carry
// an Authorization header supplied by a HeaderSource: a static bearer token,
// basic credentials, or the OAuth2 lifecycle manager in the auth package.
//
//	authn, err := auth.New(auth.Config{
//		TokenURL:     "https://idp.example.com/oauth/token",
//		ClientID:     id,
//		ClientSecret: secret,
//		Scope:        "api",
//	})
//	client, err := cruds.New("https://api.example.com",
//		cruds.WithAuth(authn),
//	)
//	result, err := client.Read(ctx, "v1/companies", nil)
//
// Responses declare whether the server sent JSON; callers branch explicitly
// instead of relying on decode failures:
//
//	if result.IsJSON() {
//		err = result.Decode(&companies)
//	} else {
//		raw := result.Bytes()
//	}
package cruds
