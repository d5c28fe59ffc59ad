package cruds

import "fmt"

// statusErrorBodyLimit caps how much of the response body ends up in error
// messages.
const statusErrorBodyLimit = 2048

// StatusError is returned for 4xx and 5xx responses when status raising is
// enabled. Server-side (5xx) failures reaching this point have already
// exhausted the transport's retry budget; client-side (4xx) failures are
// definitive and were never retried.
type StatusError struct {
	StatusCode int
	Body       []byte
}

// ClientError reports whether the failure is a definitive 4xx rejection.
func (e *StatusError) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// ServerError reports whether the failure is a 5xx response.
func (e *StatusError) ServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

func (e *StatusError) Error() string {
	kind := "server"
	if e.ClientError() {
		kind = "client"
	}

	body := e.Body
	if len(body) > statusErrorBodyLimit {
		body = body[:statusErrorBodyLimit]
	}
	return fmt.Sprintf("%s error with status code %d: %s", kind, e.StatusCode, body)
}
