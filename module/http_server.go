// Package module holds the application modules wired into the modular
// application by cmd/server: the HTTP server, metrics, tracing, health and
// the execution describe cache.
package module

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/GoCodeAlone/modular"
)

// HTTPServer serves a handler for the lifetime of the application.
type HTTPServer struct {
	mu       sync.Mutex
	name     string
	address  string
	handler  http.Handler
	server   *http.Server
	listener net.Listener
	logger   modular.Logger
}

// NewHTTPServer creates an HTTP server module. The handler may be set later
// with SetHandler, but before Start.
func NewHTTPServer(name, address string, handler http.Handler) *HTTPServer {
	return &HTTPServer{
		name:    name,
		address: address,
		handler: handler,
		logger:  &noopLogger{},
	}
}

// Name returns the unique identifier for this module
func (s *HTTPServer) Name() string {
	return s.name
}

// Init initializes the module with the application context
func (s *HTTPServer) Init(app modular.Application) error {
	s.logger = app.Logger()
	return nil
}

// SetHandler replaces the served handler.
func (s *HTTPServer) SetHandler(h http.Handler) {
	s.handler = h
}

// Addr returns the bound address once started, otherwise the configured one.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.address
}

// Start binds the listen address and serves in the background. Binding
// errors are returned synchronously.
func (s *HTTPServer) Start(_ context.Context) error {
	if s.handler == nil {
		return fmt.Errorf("http server %q: no handler configured", s.name)
	}

	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("http server %q: listen on %s: %w", s.name, s.address, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.logger.Info("HTTP server started", "address", ln.Addr().String())
	return nil
}

// Stop gracefully shuts the server down.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down HTTP server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// ProvidesServices returns a list of services provided by this module
func (s *HTTPServer) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{
			Name:        s.name,
			Description: "HTTP Server",
			Instance:    s,
		},
	}
}

// RequiresServices returns a list of services required by this module
func (s *HTTPServer) RequiresServices() []modular.ServiceDependency {
	return nil
}

// noopLogger discards everything until Init supplies the application logger.
type noopLogger struct{}

func (l *noopLogger) Debug(msg string, args ...any) {}
func (l *noopLogger) Info(msg string, args ...any)  {}
func (l *noopLogger) Warn(msg string, args ...any)  {}
func (l *noopLogger) Error(msg string, args ...any) {}
