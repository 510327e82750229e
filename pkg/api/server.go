// Package api serves the observability surface: health probes, Prometheus
// metrics and a read-only status snapshot. It binds to loopback by default.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/telarch/telarch/internal/logger"
)

// Server is the observability HTTP server.
type Server struct {
	server       *http.Server
	config       APIConfig
	shutdownOnce sync.Once
}

// NewServer builds the server in a stopped state; call Start to serve.
// Defaults are applied here so direct construction in tests works too.
func NewServer(config APIConfig, deps Dependencies) *Server {
	config.ApplyDefaults()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.BindAddress, config.Port),
		Handler:      NewRouter(deps),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return &Server{server: server, config: config}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("Observability server listening", "addr", s.server.Addr)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		// The cancelled ctx would abort the drain immediately; use a fresh one.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("observability server failed: %w", err)
	}
}

// Stop drains in-flight requests. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("observability server shutdown error: %w", err)
		} else {
			logger.Info("Observability server stopped")
		}
	})
	return shutdownErr
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}
