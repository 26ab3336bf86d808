package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ecovate/turnrest/internal/config"
	"github.com/rs/zerolog/log"
)

// Server runs an HTTP server until its context is cancelled or the process
// receives SIGINT or SIGTERM, then drains in-flight requests and runs the
// shutdown hooks.
type Server struct {
	HTTP  *http.Server
	Hooks ShutdownHooks

	shutdownTimeout time.Duration
}

func New(cfg config.ServerConfig, handler http.Handler) *Server {
	return &Server{
		HTTP: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			MaxHeaderBytes:    20 << 10,         // 20 KB
			ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
		},
		shutdownTimeout: time.Duration(cfg.ShutdownTimeoutSeconds) * time.Second,
	}
}

// ListenAndServe listens on the configured address and serves until shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.HTTP.Addr, err)
	}

	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until shutdown. A nil error is
// returned after a clean shutdown.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", listener.Addr().String()).Msg("server: listening")
		serveErr <- s.HTTP.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		// the server stopped without being asked to
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
		log.Info().Msg("server: shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.HTTP.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("draining connections: %w", err))
	}

	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, err)
	}

	if err := s.Hooks.Execute(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown hooks: %w", err))
	}

	log.Info().Msg("server: shutdown complete")

	return errors.Join(errs...)
}
