package socks5

import (
	"errors"
	"fmt"

	txsocks5 "github.com/txthinking/socks5"
)

// Sentinels for the CONNECT reply codes defined by RFC 1928 section 6. A
// *ReplyError unwraps to exactly one of them.
var (
	ErrGeneralFailure      = errors.New("general SOCKS server failure")
	ErrNotAllowed          = errors.New("connection not allowed by ruleset")
	ErrNetworkUnreachable  = errors.New("network unreachable")
	ErrHostUnreachable     = errors.New("host unreachable")
	ErrConnectionRefused   = errors.New("connection refused")
	ErrTTLExpired          = errors.New("TTL expired")
	ErrCommandNotSupported = errors.New("command not supported")
	ErrAddressNotSupported = errors.New("address type not supported")
	ErrUnknownReply        = errors.New("unknown reply code")
)

// ProtocolError reports a malformed, truncated or unsuccessful SOCKS5 reply.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return "socks5 " + e.Op + ": " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ReplyError carries the REP field of a failed CONNECT reply.
type ReplyError struct {
	Code byte
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("%s (0x%02x)", replySentinel(e.Code), e.Code)
}

func (e *ReplyError) Unwrap() error {
	return replySentinel(e.Code)
}

func replySentinel(code byte) error {
	switch code {
	case txsocks5.RepServerFailure:
		return ErrGeneralFailure
	case txsocks5.RepNotAllowed:
		return ErrNotAllowed
	case txsocks5.RepNetworkUnreachable:
		return ErrNetworkUnreachable
	case txsocks5.RepHostUnreachable:
		return ErrHostUnreachable
	case txsocks5.RepConnectionRefused:
		return ErrConnectionRefused
	case txsocks5.RepTTLExpired:
		return ErrTTLExpired
	case txsocks5.RepCommandNotSupported:
		return ErrCommandNotSupported
	case txsocks5.RepAddressNotSupported:
		return ErrAddressNotSupported
	default:
		return ErrUnknownReply
	}
}
