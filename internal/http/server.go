// ABOUTME: Hardened HTTP server used for the Prometheus metrics endpoint
// ABOUTME: Bounded timeouts against slow clients; Listen binds up front and returns a shutdown func

package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// NewServer creates an HTTP server for handler with bounded timeouts.
func NewServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}
}

// Listen binds addr and serves handler in the background. It returns the
// bound address (useful with port 0) and a func that shuts the server down,
// waiting at most grace for in-flight requests. Serve failures after a
// successful bind go to onError, which may be nil.
func Listen(addr string, handler http.Handler, grace time.Duration, onError func(error)) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := NewServer(handler)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && onError != nil {
			onError(err)
		}
	}()
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return ln.Addr().String(), stop, nil
}
