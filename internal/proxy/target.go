package proxy

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultHTTPPort    = "80"
	defaultHTTPSPort   = "443"
	defaultConnectPort = "443"
)

// target is the origin a request is forwarded to
type target struct {
	hostname string
	port     string
	// path is the origin-form request target, path plus query
	path string
}

// addr returns host:port for dialing
func (t target) addr() string {
	return net.JoinHostPort(t.hostname, t.port)
}

// parseTarget resolves the origin of a plain proxy request. The absolute
// request URI wins; otherwise the Host header supplies hostname and port.
func parseTarget(r *http.Request) target {
	t := target{
		port: defaultHTTPPort,
		path: r.RequestURI,
	}

	hostHeader := &url.URL{Host: r.Host}
	t.hostname = hostHeader.Hostname()
	if p := hostHeader.Port(); p != "" {
		t.port = p
	}

	u := r.URL
	if u == nil {
		return t
	}

	if u.Host != "" {
		t.hostname = u.Hostname()
		switch {
		case u.Port() != "":
			t.port = u.Port()
		case strings.EqualFold(u.Scheme, "https"):
			t.port = defaultHTTPSPort
		default:
			t.port = defaultHTTPPort
		}
	}
	t.path = u.RequestURI()

	return t
}

// parseConnectTarget splits a CONNECT authority into hostname and port.
// Unparsable authorities fall back to splitting on the last colon.
func parseConnectTarget(authority string) (hostname, port string) {
	if u, err := url.Parse("http://" + authority); err == nil && u.Hostname() != "" {
		hostname, port = u.Hostname(), u.Port()
	} else if idx := strings.LastIndex(authority, ":"); idx >= 0 {
		hostname, port = authority[:idx], authority[idx+1:]
	} else {
		hostname = authority
	}

	if port == "" {
		port = defaultConnectPort
	}
	return hostname, port
}
