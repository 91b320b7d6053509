package coordinator

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fwdproxy/internal/blocklist"
	"fwdproxy/internal/cache"
	"fwdproxy/internal/console"
	"fwdproxy/internal/ipc"
)

// Dispatcher applies worker requests to the stores the coordinator owns
type Dispatcher struct {
	blocklist *blocklist.Set
	cache     *cache.MemoryCache
	sink      console.Sink
	metrics   *Metrics
	logger    zerolog.Logger

	// one message at a time, whichever worker sent it
	mu sync.Mutex
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(bl *blocklist.Set, mc *cache.MemoryCache, sink console.Sink, metrics *Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		blocklist: bl,
		cache:     mc,
		sink:      sink,
		metrics:   metrics,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch handles one request and returns the reply to send.
// It returns nil for one-way requests and for unknown kinds.
func (d *Dispatcher) Dispatch(req *ipc.Request) *ipc.Response {
	if !req.Kind.Valid() {
		d.logger.Warn().
			Str("kind", string(req.Kind)).
			Str("id", req.ID).
			Msg("ignoring message of unknown kind")
		return nil
	}
	d.metrics.RecordMessage(string(req.Kind))

	result, err := d.handle(req)
	if err != nil {
		d.metrics.RecordDispatchError(string(req.Kind))
		d.logger.Warn().
			Err(err).
			Str("kind", string(req.Kind)).
			Str("id", req.ID).
			Msg("dispatch failed")
		if req.IsOneWay() {
			return nil
		}
		return ipc.NewErrorResponse(req.ID, err.Error())
	}

	if req.IsOneWay() {
		return nil
	}

	resp, err := ipc.NewResponse(req.ID, result)
	if err != nil {
		return ipc.NewErrorResponse(req.ID, fmt.Sprintf("failed to encode result: %v", err))
	}
	return resp
}

func (d *Dispatcher) handle(req *ipc.Request) (result interface{}, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("dispatch panic: %v", r)
		}
	}()

	switch req.Kind {
	case ipc.KindBlocklistCheck:
		host, err := ipc.DecodeString(req.Payload)
		if err != nil {
			return nil, err
		}
		return d.blocklist.Has(host), nil

	case ipc.KindCacheGet:
		url, err := ipc.DecodeString(req.Payload)
		if err != nil {
			return nil, err
		}
		entry, ok := d.cache.Lookup(url)
		if !ok {
			return nil, nil
		}
		return cache.EncodeEntry(entry), nil

	case ipc.KindCacheSet:
		p, err := ipc.DecodeCacheSet(req.Payload)
		if err != nil {
			return nil, err
		}
		d.cache.Set(p.URL, p.Headers, []byte(p.Body))
		return nil, nil

	case ipc.KindLogRequest:
		p, err := ipc.DecodeLogRequest(req.Payload)
		if err != nil {
			return nil, err
		}
		d.metrics.RecordRequest(p.Status)
		d.sink.LogRequest(p.URL, p.Method, p.Status, time.Duration(p.DurationMs)*time.Millisecond)
		return nil, nil

	case ipc.KindLogError:
		p, err := ipc.DecodeLogError(req.Payload)
		if err != nil {
			return nil, err
		}
		d.metrics.RecordError()
		d.sink.LogError(p.Message)
		return nil, nil
	}

	return nil, fmt.Errorf("%w: unhandled kind %s", ipc.ErrInvalidPayload, req.Kind)
}
