package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"fwdproxy/internal/blocklist"
	"fwdproxy/internal/cache"
	"fwdproxy/internal/config"
	"fwdproxy/internal/console"
	"fwdproxy/internal/ipc"
	"fwdproxy/internal/proxy"
)

// Server is a worker's proxy server. It holds only stand-ins for the
// shared stores and reaches the coordinator through rpc.
type Server struct {
	cfg        *config.Config
	handler    *proxy.Handler
	httpServer *http.Server
	listener   net.Listener
	logger     zerolog.Logger
}

// New creates a new Server
func New(cfg *config.Config, rpc ipc.Caller, logger zerolog.Logger) *Server {
	handler := proxy.NewHandler(
		blocklist.NewClient(rpc),
		cache.NewClient(rpc),
		console.NewClient(rpc),
		cfg.GetUpstreamTimeoutDuration(),
		logger,
	)

	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
	}
}

// Start binds the shared port and serves in the background
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.GetListenAddr()

	listener, err := Listen(ctx, addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	// no read or write timeout: tunnels and streamed bodies are long-lived
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("addr", listener.Addr().String()).
			Bool("sharedPort", SharedPort).
			Msg("starting proxy server")
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("proxy server error")
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server...")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("proxy server shutdown error: %w", err)
		}
	}

	s.logger.Info().Msg("server stopped")
	return nil
}
