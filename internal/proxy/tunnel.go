package proxy

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"fwdproxy/internal/console"
)

const (
	connectEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"
	connectBadRequest  = "HTTP/1.1 400 Bad Request\r\n\r\n"
	connectForbidden   = "HTTP/1.1 403 Forbidden\r\n\r\n"
)

type closeWriter interface {
	CloseWrite() error
}

// serveConnect opens a blind tunnel between the client and the origin
func (h *Handler) serveConnect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqURL := r.RequestURI

	hostname, port := parseConnectTarget(reqURL)
	if hostname == "" {
		h.rejectConnect(w, connectBadRequest)
		return
	}

	blocked, err := h.blocklist.IsBlocked(r.Context(), hostname)
	if err != nil {
		h.sink.LogError(fmt.Sprintf("CONNECT Internal Proxy Error: %v", err))
		h.rejectConnect(w, "")
		return
	}
	if blocked {
		h.rejectConnect(w, connectForbidden)
		h.sink.LogRequest(hostname, http.MethodConnect, console.StatusBlocked, time.Since(start))
		return
	}

	dialer := &net.Dialer{Timeout: h.upstreamTimeout}
	originConn, err := dialer.DialContext(r.Context(), "tcp", net.JoinHostPort(hostname, port))
	if err != nil {
		h.sink.LogError(fmt.Sprintf("CONNECT error to %s: %s", hostname, errorMessage(err)))
		h.rejectConnect(w, "")
		return
	}
	defer originConn.Close()

	clientConn, brw, err := http.NewResponseController(w).Hijack()
	if err != nil {
		h.sink.LogError(fmt.Sprintf("CONNECT Internal Proxy Error: %v", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	defer clientConn.Close()
	clientConn.SetDeadline(time.Time{})

	if _, err := io.WriteString(clientConn, connectEstablished); err != nil {
		h.logger.Debug().Err(err).Str("host", hostname).Msg("failed to confirm tunnel")
		return
	}

	if err := forwardBuffered(originConn, brw.Reader); err != nil {
		h.sink.LogError(fmt.Sprintf("CONNECT error to %s: %s", hostname, errorMessage(err)))
		return
	}

	originDone := make(chan struct{})
	go func() {
		defer close(originDone)
		io.Copy(clientConn, originConn)
		closeWrite(clientConn)
	}()

	io.Copy(originConn, clientConn)
	h.sink.LogRequest(reqURL, http.MethodConnect, console.StatusTunnelClosed, time.Since(start))
	closeWrite(originConn)

	<-originDone
}

// rejectConnect answers on the raw client socket and closes it.
// An empty status line closes without answering.
func (h *Handler) rejectConnect(w http.ResponseWriter, statusLine string) {
	conn, _, err := http.NewResponseController(w).Hijack()
	if err != nil {
		h.logger.Debug().Err(err).Msg("failed to hijack connection")
		return
	}
	defer conn.Close()

	if statusLine != "" {
		io.WriteString(conn, statusLine)
	}
}

// forwardBuffered sends bytes the server read past the CONNECT head
func forwardBuffered(dst io.Writer, r *bufio.Reader) error {
	n := r.Buffered()
	if n == 0 {
		return nil
	}
	head, err := r.Peek(n)
	if err != nil {
		return err
	}
	_, err = dst.Write(head)
	return err
}

func closeWrite(conn net.Conn) {
	if cw, ok := conn.(closeWriter); ok {
		cw.CloseWrite()
		return
	}
	conn.Close()
}
