package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Server wraps an *http.Server to provide start/shutdown lifecycle.
type Server struct {
	// WriteTimeout bounds a whole response. It has to exceed the check
	// timeout or a slow online check loses its answer.
	WriteTimeout time.Duration

	httpServer *http.Server
}

const (
	maxHeaderBytes      = 1 << 20 // 1 MB
	readHeaderTimeout   = 10 * time.Second
	defaultWriteTimeout = 30 * time.Second
	idleTimeout         = 60 * time.Second
)

// newHTTPServer builds a configured *http.Server for the given address and handler.
func newHTTPServer(addr string, handler http.Handler, writeTimeout time.Duration) *http.Server {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		MaxHeaderBytes:    maxHeaderBytes,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
}

// normalizeAddr accepts "8080" or ":8080".
func normalizeAddr(port string) string {
	if port == "" {
		return ""
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// Run serves handler on port until Shutdown. A clean shutdown returns nil.
func (s *Server) Run(port string, handler http.Handler) error {
	s.httpServer = newHTTPServer(normalizeAddr(port), handler, s.WriteTimeout)
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, allowing in-flight requests to complete.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
