package cache

import (
	"context"
	"net/http"
	"time"
)

// Entry is a captured upstream response
type Entry struct {
	Headers    http.Header
	Body       []byte
	CapturedAt time.Time
}

// Cache defines the interface for response caching.
// Keys are request URLs exactly as the client sent them.
type Cache interface {
	// Get retrieves a live entry by key.
	// Returns the entry and true if found, nil and false otherwise.
	Get(ctx context.Context, key string) (*Entry, bool, error)

	// Set stores a response under key, replacing any previous entry.
	// The caller decides whether a response is cacheable.
	Set(key string, headers http.Header, body []byte)
}
