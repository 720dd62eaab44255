package control

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"school-transit/pkg/logger"
)

// Server wraps the control API in an http.Server with context-driven
// shutdown.
type Server struct {
	httpServer *http.Server
	logger     logger.Logger
}

func NewServer(port int, handler *Handler, log logger.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      handler.Router(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		logger: log,
	}
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		s.logger.Info("control.listen", "control API on "+s.httpServer.Addr)
		errs <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("control server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.httpServer.Close()
		return fmt.Errorf("control server shutdown: %w", err)
	}
	s.logger.Info("control.stopped", "control API stopped")
	return nil
}
