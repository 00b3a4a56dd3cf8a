//go:build linux || darwin || freebsd || netbsd || openbsd

package tunnel

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// socketError reports the socket's pending error (SO_ERROR), or the error
// reaching its descriptor. Connections without a descriptor report nil.
func socketError(c net.Conn) error {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return nil
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return err
	}

	var (
		soErr  int
		getErr error
	)
	err = rc.Control(func(fd uintptr) {
		soErr, getErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
	})
	if err != nil {
		return err
	}
	if getErr != nil {
		return getErr
	}
	if soErr != 0 {
		return syscall.Errno(soErr)
	}
	return nil
}

// shutdownSocket shuts down both directions of c's socket.
func shutdownSocket(c net.Conn) error {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return nil
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return err
	}

	var shutErr error
	err = rc.Control(func(fd uintptr) {
		shutErr = unix.Shutdown(int(fd), unix.SHUT_RDWR)
	})
	if err != nil {
		return err
	}
	return shutErr
}
