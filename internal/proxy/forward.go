package proxy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"

	"fwdproxy/internal/console"
)

const relayBufferSize = 32 * 1024

// hopHeaders apply to a single connection and are not forwarded
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// newTransport builds the origin transport: no proxy, no transparent
// decompression, redirects are returned to the client as-is.
func newTransport(timeout time.Duration) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		DisableCompression:    true,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
}

// removeHopHeaders deletes hop-by-hop headers, including any named by Connection
func removeHopHeaders(h http.Header) {
	for _, v := range h["Connection"] {
		for _, name := range strings.Split(v, ",") {
			name = textproto.TrimString(name)
			if name != "" && httpguts.ValidHeaderFieldName(name) {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// forward sends the request to the origin and streams the answer back,
// caching successful GET responses.
func (h *Handler) forward(w *responseWriter, r *http.Request, t target, start time.Time) {
	reqURL := r.RequestURI

	out, err := h.outboundRequest(r, t)
	if err != nil {
		h.internalError(w, err)
		return
	}

	resp, err := h.transport.RoundTrip(out)
	if err != nil {
		h.upstreamError(w, t, err)
		return
	}
	defer resp.Body.Close()

	removeHopHeaders(resp.Header)
	header := w.Header()
	for k, vv := range resp.Header {
		header[k] = append([]string(nil), vv...)
	}
	w.WriteHeader(resp.StatusCode)

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		h.logger.Debug().Err(err).Msg("failed to flush response headers")
	}

	cacheable := r.Method == http.MethodGet && resp.StatusCode == http.StatusOK
	var body bytes.Buffer
	buf := make([]byte, relayBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if cacheable {
				body.Write(buf[:n])
			}
			if _, err := w.Write(buf[:n]); err != nil {
				h.logger.Debug().Err(err).Str("url", reqURL).Msg("client went away")
				return
			}
			rc.Flush()
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			h.upstreamError(w, t, readErr)
			return
		}
	}

	if cacheable {
		h.cache.Set(reqURL, resp.Header, body.Bytes())
	}
	h.sink.LogRequest(reqURL, r.Method, console.StatusMiss, time.Since(start))
}

// outboundRequest builds the request sent to the origin
func (h *Handler) outboundRequest(r *http.Request, t target) (*http.Request, error) {
	u, err := url.ParseRequestURI(t.path)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", t.path, err)
	}
	u.Scheme = "http"
	u.Host = t.addr()

	out, err := http.NewRequestWithContext(r.Context(), r.Method, u.String(), r.Body)
	if err != nil {
		return nil, err
	}
	if r.ContentLength == 0 {
		out.Body = nil
	}
	out.ContentLength = r.ContentLength

	out.Header = r.Header.Clone()
	removeHopHeaders(out.Header)
	if r.Host != "" {
		out.Host = r.Host
	}
	return out, nil
}

// upstreamError reports an origin failure. Before the status line is sent
// the client gets 502; afterwards the connection is cut.
func (h *Handler) upstreamError(w *responseWriter, t target, err error) {
	h.sink.LogError(fmt.Sprintf("Proxy error to %s: %s", t.hostname, errorMessage(err)))
	if w.wroteHeader {
		panic(http.ErrAbortHandler)
	}
	h.writeError(w, http.StatusBadGateway, "Bad Gateway")
}

// errorMessage unwraps url and net errors down to the underlying cause
func errorMessage(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Err != nil {
		return opErr.Err.Error()
	}
	return err.Error()
}
