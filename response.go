package cruds

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
)

// Result is a fully read API response. The body is buffered, so a Result
// stays usable after the connection is returned to the pool.
type Result struct {
	StatusCode int
	Header     http.Header
	body       []byte
}

// Bytes returns the raw response body.
func (r *Result) Bytes() []byte {
	return r.body
}

// IsJSON reports whether the server declared a JSON content type. Callers
// decide explicitly between Decode and Bytes instead of decoding blindly and
// falling back on failure.
func (r *Result) IsJSON() bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mediaType == "application/json" || mediaType == "application/problem+json"
}

// Decode unmarshals the JSON body into v.
func (r *Result) Decode(v any) error {
	if len(r.body) == 0 {
		return fmt.Errorf("empty response body")
	}
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}
