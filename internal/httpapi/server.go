package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// NewServer builds the HTTP server with production timeout defaults.
// WebSocket connections are hijacked at upgrade and outlive ReadTimeout.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Start listens and serves until shutdown. A closed-server error is normal
// termination, not a failure.
func Start(server *http.Server, log *slog.Logger) error {
	log.Info("http server listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains the HTTP server, waiting up to timeout for in-flight
// requests.
func Shutdown(server *http.Server, timeout time.Duration, log *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Warn("http server shutdown error", "error", err)
		return err
	}
	log.Info("http server shutdown complete")
	return nil
}
