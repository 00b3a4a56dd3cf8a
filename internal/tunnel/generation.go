package tunnel

import (
	"bufio"
	"net"
)

// generation is one established transport. It is immutable once published.
type generation struct {
	id string

	// raw is the TCP connection to the proxy; stream is raw itself or a
	// *tls.Conn layered on it.
	raw    net.Conn
	stream net.Conn
	br     *bufio.Reader

	// insecure records that certificate validation was skipped.
	insecure   bool
	tlsVersion uint16
}

func (g *generation) close() {
	// The peer may already be gone.
	_ = shutdownSocket(g.raw)
	if g.stream != g.raw {
		_ = g.stream.Close()
	}
	_ = g.raw.Close()
}
