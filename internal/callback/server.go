// Package callback runs a short-lived loopback HTTP server that receives the
// OAuth2 authorization redirect during interactive logins.
package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/cruds-go/cruds/observability/middleware"
)

const (
	// maxRequestBytes bounds callback request bodies; the redirect carries
	// everything in the query string.
	maxRequestBytes = 4 << 10

	readHeaderTimeout = 5 * time.Second
)

// Server listens on the loopback address named by the redirect URL and hands
// the first matching callback URL to the caller.
type Server struct {
	addr string
	path string

	server   *http.Server
	received chan string
	done     atomic.Bool
}

// New creates a Server for the given redirect URL. The URL must name a
// loopback host with an explicit port.
func New(redirectURL string) (*Server, error) {
	parsed, err := url.Parse(redirectURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URL: %w", err)
	}
	if parsed.Scheme != "http" {
		return nil, fmt.Errorf("redirect URL %q must use http for a loopback listener", redirectURL)
	}
	host := parsed.Hostname()
	if host != "localhost" && !net.ParseIP(host).IsLoopback() {
		return nil, fmt.Errorf("redirect URL host %q is not a loopback address", host)
	}
	if parsed.Port() == "" {
		return nil, fmt.Errorf("redirect URL %q needs an explicit port", redirectURL)
	}

	path := parsed.Path
	if path == "" {
		path = "/"
	}

	return &Server{
		addr:     net.JoinHostPort(host, parsed.Port()),
		path:     path,
		received: make(chan string, 1),
	}, nil
}

// Start begins serving and returns a channel that reports the terminal server
// error, if any. Call Shutdown to stop.
func (s *Server) Start(ctx context.Context) (<-chan error, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.path, s.handleCallback)

	handler := chain(mux,
		middleware.RequestIDGeneration,
		middleware.TraceContextExtraction,
		middleware.Logging(slog.Default()),
		middleware.RequestIDPropagation,
		recovery,
		limitBody(maxRequestBytes),
	)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	slog.InfoContext(ctx, "waiting for authorization callback", "addr", s.addr, "path", s.path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Wait blocks until a callback arrives or the context is cancelled, and
// returns the full callback URL as the browser requested it.
func (s *Server) Wait(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case rawURL := <-s.received:
		return rawURL, nil
	}
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	// Only the first callback counts; repeats get a plain response.
	if s.done.CompareAndSwap(false, true) {
		s.received <- "http://" + s.addr + r.URL.RequestURI()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte("<html><body><p>Authorization received. You can close this window.</p></body></html>"))
}
