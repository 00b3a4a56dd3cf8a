//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package tunnel

import (
	"errors"
	"net"
)

// socketError has no probe on this platform; an open connection is assumed
// healthy.
func socketError(net.Conn) error {
	return nil
}

func shutdownSocket(c net.Conn) error {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return nil
	}
	return errors.Join(tc.CloseRead(), tc.CloseWrite())
}
