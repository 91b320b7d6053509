package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"fwdproxy/internal/ipc"
)

// Client is a Cache that forwards every operation to the coordinator
type Client struct {
	rpc ipc.Caller
}

var _ Cache = (*Client)(nil)

// NewClient creates a new RPC-backed cache
func NewClient(rpc ipc.Caller) *Client {
	return &Client{rpc: rpc}
}

// Get implements Cache
func (c *Client) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := c.rpc.Call(ctx, ipc.KindCacheGet, key)
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if len(data) == 0 || string(data) == "null" {
		return nil, false, nil
	}

	var raw ipc.CacheEntryData
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false, fmt.Errorf("cache get %s: malformed entry: %w", key, err)
	}
	return DecodeEntry(&raw), true, nil
}

// Set implements Cache. The write is fire-and-forget.
func (c *Client) Set(key string, headers http.Header, body []byte) {
	c.rpc.Notify(ipc.KindCacheSet, ipc.CacheSetPayload{
		URL:     key,
		Headers: headers,
		Body:    body,
	})
}

// EncodeEntry converts an entry to its wire form
func EncodeEntry(e *Entry) *ipc.CacheEntryData {
	return &ipc.CacheEntryData{
		Headers:    e.Headers,
		Body:       e.Body,
		CapturedAt: e.CapturedAt.UnixMilli(),
	}
}

// DecodeEntry converts the wire form back to an entry
func DecodeEntry(d *ipc.CacheEntryData) *Entry {
	headers := d.Headers
	if headers == nil {
		headers = make(http.Header)
	}
	return &Entry{
		Headers:    headers,
		Body:       []byte(d.Body),
		CapturedAt: time.UnixMilli(d.CapturedAt),
	}
}
