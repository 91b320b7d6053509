package coordinator

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"fwdproxy/internal/blocklist"
	"fwdproxy/internal/cache"
	"fwdproxy/internal/ipc"
)

type loggedRequest struct {
	url, method, status string
	duration            time.Duration
}

type recordingSink struct {
	mu       sync.Mutex
	requests []loggedRequest
	errors   []string
	panicOn  string
}

func (s *recordingSink) LogRequest(url, method, status string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, loggedRequest{url, method, status, d})
}

func (s *recordingSink) LogError(message string) {
	if s.panicOn != "" && message == s.panicOn {
		panic("sink exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, message)
}

func (s *recordingSink) Errors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.errors...)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *blocklist.Set, *cache.MemoryCache, *recordingSink, *Metrics) {
	t.Helper()
	mc, err := cache.NewMemoryCache(0, time.Minute)
	require.NoError(t, err)
	bl := blocklist.NewSet()
	sink := &recordingSink{}
	metrics := NewMetrics()
	return NewDispatcher(bl, mc, sink, metrics, zerolog.Nop()), bl, mc, sink, metrics
}

func rawRequest(id string, kind ipc.Kind, payload string) *ipc.Request {
	req := &ipc.Request{ID: id, Kind: kind}
	if payload != "" {
		req.Payload = json.RawMessage(payload)
	}
	return req
}

func TestDispatch_BlocklistCheck(t *testing.T) {
	d, bl, _, _, _ := newTestDispatcher(t)
	bl.Add("bad.example")

	resp := d.Dispatch(rawRequest("1", ipc.KindBlocklistCheck, `"bad.example"`))
	require.NotNil(t, resp)
	require.True(t, resp.Success)
	require.Equal(t, "1", resp.ID)
	require.JSONEq(t, "true", string(resp.Data))

	resp = d.Dispatch(rawRequest("2", ipc.KindBlocklistCheck, `"good.example"`))
	require.True(t, resp.Success)
	require.JSONEq(t, "false", string(resp.Data))
}

func TestDispatch_CacheGetMissIsNoData(t *testing.T) {
	d, _, _, _, _ := newTestDispatcher(t)

	resp := d.Dispatch(rawRequest("1", ipc.KindCacheGet, `"http://example.com/"`))
	require.NotNil(t, resp)
	require.True(t, resp.Success)
	require.False(t, resp.HasData())
	require.Empty(t, resp.Error)
}

func TestDispatch_CacheSetThenGetPreservesBytes(t *testing.T) {
	d, _, mc, _, _ := newTestDispatcher(t)

	set := rawRequest(ipc.OneWayID, ipc.KindCacheSet,
		`{"url":"http://example.com/bin","headers":{"Content-Type":["application/octet-stream"]},"body":{"type":"Buffer","data":[0,255,1,128]}}`)
	require.Nil(t, d.Dispatch(set))
	require.Equal(t, 1, mc.Len())

	resp := d.Dispatch(rawRequest("2", ipc.KindCacheGet, `"http://example.com/bin"`))
	require.True(t, resp.Success)
	require.True(t, resp.HasData())

	var data ipc.CacheEntryData
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.Equal(t, []byte{0, 255, 1, 128}, []byte(data.Body))
	require.Equal(t, "application/octet-stream", data.Headers.Get("Content-Type"))
	require.NotZero(t, data.CapturedAt)
}

func TestDispatch_CacheSetWithIDReplies(t *testing.T) {
	d, _, _, _, _ := newTestDispatcher(t)

	resp := d.Dispatch(rawRequest("5", ipc.KindCacheSet, `{"url":"http://example.com/","headers":{},"body":"aGk="}`))
	require.NotNil(t, resp)
	require.True(t, resp.Success)
	require.False(t, resp.HasData())
}

func TestDispatch_MalformedPayloadsAreReported(t *testing.T) {
	d, _, mc, _, metrics := newTestDispatcher(t)

	tests := []struct {
		name string
		req  *ipc.Request
	}{
		{"cache set without url", rawRequest("1", ipc.KindCacheSet, `{"headers":{},"body":"aGk="}`)},
		{"cache set bad body", rawRequest("2", ipc.KindCacheSet, `{"url":"u","body":{"type":"Buffer","data":[999]}}`)},
		{"cache get non string", rawRequest("3", ipc.KindCacheGet, `123`)},
		{"cache get empty", rawRequest("4", ipc.KindCacheGet, ``)},
		{"blocklist check object", rawRequest("5", ipc.KindBlocklistCheck, `{"host":"x"}`)},
		{"log request missing status", rawRequest("6", ipc.KindLogRequest, `{"url":"u","method":"GET"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := d.Dispatch(tt.req)
			require.NotNil(t, resp)
			require.False(t, resp.Success)
			require.Equal(t, tt.req.ID, resp.ID)
			require.NotEmpty(t, resp.Error)
		})
	}

	require.Zero(t, mc.Len())
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.dispatchErrors.WithLabelValues(string(ipc.KindCacheSet))))
}

func TestDispatch_OneWayFailureHasNoReply(t *testing.T) {
	d, _, _, _, _ := newTestDispatcher(t)

	require.Nil(t, d.Dispatch(rawRequest(ipc.OneWayID, ipc.KindCacheSet, `not json`)))
}

func TestDispatch_LogEventsForwardedVerbatim(t *testing.T) {
	d, _, _, sink, metrics := newTestDispatcher(t)

	require.Nil(t, d.Dispatch(rawRequest(ipc.OneWayID, ipc.KindLogRequest,
		`{"url":"http://example.com/x","method":"GET","status":"CACHE HIT","durationMs":42}`)))
	require.Nil(t, d.Dispatch(rawRequest(ipc.OneWayID, ipc.KindLogError, `{"message":"Proxy error to example.com: refused"}`)))

	require.Equal(t, []loggedRequest{{"http://example.com/x", "GET", "CACHE HIT", 42 * time.Millisecond}}, sink.requests)
	require.Equal(t, []string{"Proxy error to example.com: refused"}, sink.Errors())
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.requests.WithLabelValues("CACHE HIT")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.errors))
}

func TestDispatch_UnknownKindIgnored(t *testing.T) {
	d, _, _, _, metrics := newTestDispatcher(t)

	require.Nil(t, d.Dispatch(rawRequest("1", ipc.Kind("CACHE_CLEAR"), `"x"`)))
	require.Zero(t, testutil.ToFloat64(metrics.messages.WithLabelValues("CACHE_CLEAR")))
}

func TestDispatch_PanicBecomesErrorResponse(t *testing.T) {
	d, _, _, sink, _ := newTestDispatcher(t)
	sink.panicOn = "boom"

	resp := d.Dispatch(rawRequest("1", ipc.KindLogError, `{"message":"boom"}`))
	require.NotNil(t, resp)
	require.False(t, resp.Success)
	require.Contains(t, resp.Error, "sink exploded")

	// the dispatcher stays usable
	resp = d.Dispatch(rawRequest("2", ipc.KindCacheGet, `"http://example.com/"`))
	require.True(t, resp.Success)
}
