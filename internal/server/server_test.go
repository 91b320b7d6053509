package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"fwdproxy/internal/config"
	"fwdproxy/internal/ipc"
)

// blockingCoordinator answers every blocklist check with true
type blockingCoordinator struct {
	mu       sync.Mutex
	calls    []ipc.Kind
	notified []ipc.Kind
}

func (c *blockingCoordinator) Call(_ context.Context, kind ipc.Kind, _ interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, kind)
	return json.RawMessage("true"), nil
}

func (c *blockingCoordinator) Notify(kind ipc.Kind, _ interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notified = append(c.notified, kind)
}

func (c *blockingCoordinator) Calls() []ipc.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ipc.Kind(nil), c.calls...)
}

func (c *blockingCoordinator) Notified() []ipc.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ipc.Kind(nil), c.notified...)
}

func startServer(t *testing.T, rpc ipc.Caller) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0

	srv := New(cfg, rpc, zerolog.Nop())
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})
	return srv
}

func TestServer_UsesCoordinatorStores(t *testing.T) {
	rpc := &blockingCoordinator{}
	srv := startServer(t, rpc)

	proxyURL, err := url.Parse("http://" + srv.Addr().String())
	require.NoError(t, err)
	client := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}

	resp, err := client.Get("http://blocked.example/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "Blocked by Proxy", string(body))
	require.Equal(t, []ipc.Kind{ipc.KindBlocklistCheck}, rpc.Calls())
	require.Equal(t, []ipc.Kind{ipc.KindLogRequest}, rpc.Notified())
}

func TestServer_StopBeforeStart(t *testing.T) {
	srv := New(config.Default(), &blockingCoordinator{}, zerolog.Nop())
	require.Nil(t, srv.Addr())
	require.NoError(t, srv.Stop(context.Background()))
}
