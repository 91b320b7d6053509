package proxy

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"fwdproxy/internal/blocklist"
	"fwdproxy/internal/cache"
	"fwdproxy/internal/console"
)

// CacheHeader marks responses served from the cache
const CacheHeader = "X-Proxy-Cache"

// Handler serves forward proxy requests. CONNECT requests open a tunnel;
// every other method is forwarded to the origin named by the request.
type Handler struct {
	blocklist       blocklist.Blocklist
	cache           cache.Cache
	sink            console.Sink
	transport       *http.Transport
	upstreamTimeout time.Duration
	logger          zerolog.Logger
}

// NewHandler creates a new Handler. A zero upstreamTimeout waits on the
// origin indefinitely.
func NewHandler(bl blocklist.Blocklist, c cache.Cache, sink console.Sink, upstreamTimeout time.Duration, logger zerolog.Logger) *Handler {
	return &Handler{
		blocklist:       bl,
		cache:           c,
		sink:            sink,
		transport:       newTransport(upstreamTimeout),
		upstreamTimeout: upstreamTimeout,
		logger:          logger.With().Str("component", "proxy").Logger(),
	}
}

// ServeHTTP handles proxy requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		h.serveConnect(w, r)
		return
	}

	rw := &responseWriter{ResponseWriter: w}
	defer h.recoverPanic(rw)

	h.serveHTTP(rw, r)
}

func (h *Handler) serveHTTP(w *responseWriter, r *http.Request) {
	start := time.Now()
	reqURL := r.RequestURI

	t := parseTarget(r)
	if t.hostname == "" {
		h.writeError(w, http.StatusBadRequest, "Bad Request: Hostname missing")
		return
	}

	blocked, err := h.blocklist.IsBlocked(r.Context(), t.hostname)
	if err != nil {
		h.internalError(w, err)
		return
	}
	if blocked {
		h.writeError(w, http.StatusForbidden, "Blocked by Proxy")
		h.sink.LogRequest(reqURL, r.Method, console.StatusBlocked, time.Since(start))
		return
	}

	if r.Method == http.MethodGet {
		entry, ok, err := h.cache.Get(r.Context(), reqURL)
		if err != nil {
			h.internalError(w, err)
			return
		}
		if ok {
			h.writeCached(w, entry)
			h.sink.LogRequest(reqURL, http.MethodGet, console.StatusCacheHit, time.Since(start))
			return
		}
	}

	h.forward(w, r, t, start)
}

// writeCached replays a cached response with the cache marker added
func (h *Handler) writeCached(w http.ResponseWriter, entry *cache.Entry) {
	header := w.Header()
	for k, vv := range entry.Headers {
		header[k] = append([]string(nil), vv...)
	}
	header.Set(CacheHeader, "HIT")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(entry.Body); err != nil {
		h.logger.Debug().Err(err).Msg("failed to write cached response")
	}
}

// internalError reports a fault that is not an upstream I/O failure
func (h *Handler) internalError(w *responseWriter, err error) {
	h.sink.LogError(fmt.Sprintf("Internal Proxy Error: %v", err))
	if w.wroteHeader {
		panic(http.ErrAbortHandler)
	}
	h.writeError(w, http.StatusInternalServerError, "Internal Server Error")
}

func (h *Handler) recoverPanic(w *responseWriter) {
	rec := recover()
	if rec == nil {
		return
	}
	if rec == http.ErrAbortHandler {
		panic(rec)
	}
	h.logger.Error().Interface("panic", rec).Msg("recovered from panic in proxy handler")
	h.internalError(w, fmt.Errorf("%v", rec))
}

// writeError writes a plain text response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, message)
}

// responseWriter records whether the status line has been sent
type responseWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(p)
}

// Unwrap lets http.ResponseController reach the underlying writer
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
