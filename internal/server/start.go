package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

// Start serves HTTP on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	slog.Info("http server listening", "addr", addr)
	if err := s.E.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.E.Shutdown(ctx)
}
