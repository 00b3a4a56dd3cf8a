package tunnel

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// TransportError reports a socket-level fault: connect failure, reset,
// broken pipe, timeout or unexpected end of stream. The transport has been
// torn down by the time it is returned.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "tunnel " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// TLSError reports a failed TLS handshake with the destination, including
// certificate rejection. A handshake that runs out of TLSHandshakeTimeout is
// a *TransportError with Op "tls" instead.
type TLSError struct {
	ServerName string
	Err        error
}

func (e *TLSError) Error() string {
	return "tunnel tls handshake with " + e.ServerName + ": " + e.Err.Error()
}

func (e *TLSError) Unwrap() error {
	return e.Err
}

func isTransportFault(err error) bool {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr):
		return true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	case errors.Is(err, net.ErrClosed):
		return true
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.ECONNABORTED):
		return true
	default:
		return false
	}
}
