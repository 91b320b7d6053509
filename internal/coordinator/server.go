package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"fwdproxy/internal/ipc"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 256 * 1024 * 1024 // 256MB
)

// WorkerPidHeader carries the worker's pid on the upgrade request
const WorkerPidHeader = "X-Worker-Pid"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // only local processes can reach the socket
	},
}

// Server accepts worker connections on a Unix socket and answers their requests
type Server struct {
	socketPath string
	dispatcher *Dispatcher
	logger     zerolog.Logger

	httpServer *http.Server
	listener   net.Listener

	conns  map[*websocket.Conn]struct{}
	closed bool
	mu     sync.Mutex
	wg     sync.WaitGroup
}

// NewServer creates a new Server
func NewServer(socketPath string, dispatcher *Dispatcher, logger zerolog.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "ipc-server").Logger(),
		conns:      make(map[*websocket.Conn]struct{}),
	}
}

// Start binds the socket and serves in the background
func (s *Server) Start() error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle(ipc.Path, s)
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info().Str("socket", s.socketPath).Msg("starting IPC server")
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("IPC server error")
		}
	}()

	return nil
}

// SocketPath returns the path workers dial
func (s *Server) SocketPath() string {
	return s.socketPath
}

// ServeHTTP upgrades a worker connection and serves it until it closes
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	logger := s.logger.With().Str("worker", r.Header.Get(WorkerPidHeader)).Logger()
	logger.Debug().Msg("worker connected")

	s.serveConn(conn, logger)
}

// serveConn reads requests in arrival order and writes each reply back
func (s *Server) serveConn(conn *websocket.Conn, logger zerolog.Logger) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		s.wg.Done()
		logger.Debug().Msg("worker disconnected")
	}()

	conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Msg("read error")
			}
			return
		}

		req, err := ipc.ParseRequest(data)
		if err != nil {
			logger.Warn().Err(err).Int("len", len(data)).Msg("discarding malformed message")
			continue
		}

		resp := s.dispatcher.Dispatch(req)
		if resp == nil {
			continue
		}

		out, err := resp.Bytes()
		if err != nil {
			logger.Error().Err(err).Str("id", req.ID).Msg("failed to marshal response")
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
			logger.Debug().Err(err).Msg("write error")
			return
		}
	}
}

// Connections returns the number of connected workers
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Stop closes the listener and every worker connection
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.mu.Lock()
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	os.Remove(s.socketPath)

	if err != nil {
		return fmt.Errorf("IPC server shutdown error: %w", err)
	}
	return nil
}
