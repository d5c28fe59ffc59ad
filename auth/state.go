package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"sync"
)

// stateLength is the number of random bytes in a state value. 32 bytes give
// 256 bits of entropy, well above the 128-bit guessing-resistance floor.
const stateLength = 32

// stateGuard issues and validates the opaque CSRF state parameter for the
// authorization code flow. A single pending value is held per guard; issuing
// a new one supersedes the old, and a successful validation consumes it.
type stateGuard struct {
	mu      sync.Mutex
	pending string
}

// Issue mints a fresh state value, replacing any pending one. Only the most
// recently issued value will validate.
func (g *stateGuard) Issue() (string, error) {
	buf := make([]byte, stateLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(buf)

	g.mu.Lock()
	g.pending = state
	g.mu.Unlock()

	return state, nil
}

// Consume validates a returned state against the pending value in constant
// time. A match consumes the pending value; anything else fails with
// AuthorizationResponseError and leaves the pending value untouched.
func (g *stateGuard) Consume(state string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pending == "" {
		return &AuthorizationResponseError{Reason: "no authorization attempt pending"}
	}
	if subtle.ConstantTimeCompare([]byte(g.pending), []byte(state)) != 1 {
		return &AuthorizationResponseError{Reason: "state parameter mismatch"}
	}

	g.pending = ""
	return nil
}
