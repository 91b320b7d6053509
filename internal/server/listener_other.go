//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

package server

import (
	"context"
	"net"
)

// SharedPort reports whether sibling processes can bind the same port
const SharedPort = false

// Listen binds addr. Without SO_REUSEPORT only the first worker binds
// successfully; run with a single worker on these platforms.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", addr)
}
