package console

import (
	"time"

	"fwdproxy/internal/ipc"
)

// Client forwards events to the coordinator's console
type Client struct {
	rpc ipc.Caller
}

var _ Sink = (*Client)(nil)

// NewClient creates a new RPC-backed sink
func NewClient(rpc ipc.Caller) *Client {
	return &Client{rpc: rpc}
}

// LogRequest implements Sink
func (c *Client) LogRequest(url, method, status string, duration time.Duration) {
	c.rpc.Notify(ipc.KindLogRequest, ipc.LogRequestPayload{
		URL:        url,
		Method:     method,
		Status:     status,
		DurationMs: duration.Milliseconds(),
	})
}

// LogError implements Sink
func (c *Client) LogError(message string) {
	c.rpc.Notify(ipc.KindLogError, ipc.LogErrorPayload{Message: message})
}
