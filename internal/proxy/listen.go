package proxy

import (
	"context"
	"fmt"
	"net"
)

// ListenTCP listens on addr and applies keepAlive to accepted connections.
// A disabled keepAlive turns keep-alive probes off rather than leaving the
// platform default.
func ListenTCP(ctx context.Context, addr string, keepAlive net.KeepAliveConfig) (net.Listener, error) {
	lc := net.ListenConfig{KeepAliveConfig: keepAlive}
	if !keepAlive.Enable {
		lc.KeepAlive = -1
	}

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	return ln, nil
}
