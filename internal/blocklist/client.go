package blocklist

import (
	"context"
	"encoding/json"
	"fmt"

	"fwdproxy/internal/ipc"
)

// Client asks the coordinator whether a host is blocked.
// Workers cannot mutate the blocklist, so Client only implements Blocklist.
type Client struct {
	rpc ipc.Caller
}

var _ Blocklist = (*Client)(nil)

// NewClient creates a new RPC-backed blocklist
func NewClient(rpc ipc.Caller) *Client {
	return &Client{rpc: rpc}
}

// IsBlocked implements Blocklist. A failed call is returned as an error,
// never reported as "not blocked".
func (c *Client) IsBlocked(ctx context.Context, host string) (bool, error) {
	data, err := c.rpc.Call(ctx, ipc.KindBlocklistCheck, host)
	if err != nil {
		return false, fmt.Errorf("blocklist check for %s: %w", host, err)
	}

	var blocked bool
	if err := json.Unmarshal(data, &blocked); err != nil {
		return false, fmt.Errorf("blocklist check for %s: malformed response: %w", host, err)
	}
	return blocked, nil
}
