package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Path is the HTTP path the coordinator serves the channel on
const Path = "/ipc"

// Caller is what the remote stand-ins need from a transport
type Caller interface {
	// Call sends a request and waits for the matching response
	Call(ctx context.Context, kind Kind, payload interface{}) (json.RawMessage, error)
	// Notify sends a one-way request; delivery is best effort
	Notify(kind Kind, payload interface{})
}

// Transport is a worker's endpoint of the channel to the coordinator.
// It correlates responses to pending calls by request id.
type Transport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	timeout time.Duration
	logger  zerolog.Logger

	pending   map[string]chan *Response
	pendingMu sync.Mutex
	closed    bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ Caller = (*Transport)(nil)

// Dial connects to the coordinator listening on the Unix socket at socketPath
func Dial(ctx context.Context, socketPath string, header http.Header, timeout time.Duration, logger zerolog.Logger) (*Transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	conn, _, err := dialer.DialContext(ctx, "ws://coordinator"+Path, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to coordinator: %w", err)
	}
	return NewTransport(conn, timeout, logger), nil
}

// NewTransport wraps an established connection and starts the reader.
// A zero timeout makes calls wait until the response or channel loss.
func NewTransport(conn *websocket.Conn, timeout time.Duration, logger zerolog.Logger) *Transport {
	t := &Transport{
		conn:    conn,
		timeout: timeout,
		logger:  logger.With().Str("component", "ipc").Logger(),
		pending: make(map[string]chan *Response),
		done:    make(chan struct{}),
	}
	t.wg.Add(1)
	go t.readLoop()
	return t
}

// Call sends kind/payload and waits for the coordinator's answer
func (t *Transport) Call(ctx context.Context, kind Kind, payload interface{}) (json.RawMessage, error) {
	id := uuid.NewString()
	req, err := NewRequest(id, kind, payload)
	if err != nil {
		return nil, err
	}
	reqBytes, err := req.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	respChan := make(chan *Response, 1)

	t.pendingMu.Lock()
	if t.closed {
		t.pendingMu.Unlock()
		return nil, ErrUnavailable
	}
	t.pending[id] = respChan
	t.pendingMu.Unlock()

	if err := t.write(reqBytes); err != nil {
		t.removePending(id)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	select {
	case resp := <-respChan:
		if resp == nil {
			return nil, ErrUnavailable
		}
		if !resp.Success {
			return nil, &RemoteError{Message: resp.Error}
		}
		return resp.Data, nil
	case <-ctx.Done():
		t.removePending(id)
		return nil, ctx.Err()
	}
}

// Notify sends kind/payload without registering a pending call.
// Failures are logged at debug level and otherwise ignored.
func (t *Transport) Notify(kind Kind, payload interface{}) {
	req, err := NewRequest(OneWayID, kind, payload)
	if err != nil {
		t.logger.Debug().Err(err).Str("kind", string(kind)).Msg("dropping one-way message")
		return
	}
	reqBytes, err := req.Bytes()
	if err != nil {
		return
	}
	if err := t.write(reqBytes); err != nil {
		t.logger.Debug().Err(err).Str("kind", string(kind)).Msg("one-way message not delivered")
	}
}

// Pending returns the number of calls awaiting a response
func (t *Transport) Pending() int {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	return len(t.pending)
}

// Done is closed once the channel to the coordinator is gone
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Close closes the connection and fails every pending call
func (t *Transport) Close() {
	t.shutdown(nil)
	t.wg.Wait()
}

func (t *Transport) write(data []byte) error {
	t.pendingMu.Lock()
	closed := t.closed
	t.pendingMu.Unlock()
	if closed {
		return ErrUnavailable
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *Transport) removePending(id string) {
	t.pendingMu.Lock()
	delete(t.pending, id)
	t.pendingMu.Unlock()
}

func (t *Transport) readLoop() {
	defer t.wg.Done()

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.shutdown(err)
			return
		}
		t.dispatchMessage(data)
	}
}

func (t *Transport) dispatchMessage(data []byte) {
	resp, err := ParseResponse(data)
	if err != nil {
		t.logger.Warn().Err(err).Int("len", len(data)).Msg("ipc message parse error")
		return
	}

	t.pendingMu.Lock()
	ch, exists := t.pending[resp.ID]
	if exists {
		delete(t.pending, resp.ID)
	}
	t.pendingMu.Unlock()

	if !exists {
		t.logger.Debug().Str("id", resp.ID).Msg("dropping unmatched response")
		return
	}
	ch <- resp
}

func (t *Transport) shutdown(cause error) {
	t.closeOnce.Do(func() {
		t.pendingMu.Lock()
		t.closed = true
		for id, ch := range t.pending {
			ch <- nil
			delete(t.pending, id)
		}
		t.pendingMu.Unlock()

		if cause != nil {
			t.logger.Warn().Err(cause).Msg("coordinator channel lost")
		}
		t.conn.Close()
		close(t.done)
	})
}
