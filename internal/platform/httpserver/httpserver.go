// Package httpserver configures the directory's HTTP listener.
package httpserver

import (
	"context"
	"net/http"
	"time"
)

// ShutdownGrace bounds how long in-flight directory requests may run after
// a termination signal before the listener is torn down.
const ShutdownGrace = 10 * time.Second

// New builds the directory server. Lookups are small and fast, so the
// timeouts are tight; slow-header clients are cut off early.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

// Shutdown drains srv within ShutdownGrace.
func Shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownGrace)
	defer cancel()
	return srv.Shutdown(ctx)
}
