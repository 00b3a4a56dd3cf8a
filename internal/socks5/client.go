package socks5

import (
	"errors"
	"fmt"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// ClientDial runs the greeting and the CONNECT request for address on conn.
func ClientDial(conn net.Conn, address string) error {
	if err := ClientNegotiate(conn); err != nil {
		return err
	}
	if err := ClientConnect(conn, address); err != nil {
		return err
	}
	return nil
}

// ClientNegotiate sends the greeting 05 01 00 and requires the proxy to accept
// the no-authentication method.
func ClientNegotiate(conn net.Conn) error {
	if _, err := txsocks5.NewNegotiationRequest([]byte{txsocks5.MethodNone}).WriteTo(conn); err != nil {
		return fmt.Errorf("write negotiation: %w", err)
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		return readError("read negotiation", err)
	}
	if neg.Ver != txsocks5.Ver {
		return &ProtocolError{Op: "negotiation", Err: fmt.Errorf("unexpected version 0x%02x", neg.Ver)}
	}
	if neg.Method != txsocks5.MethodNone {
		return &ProtocolError{Op: "negotiation", Err: fmt.Errorf("unsupported method 0x%02x", neg.Method)}
	}
	return nil
}

// ClientConnect asks the proxy to open a TCP stream to address (host:port).
// Hostnames are sent unresolved so the proxy does the lookup.
func ClientConnect(conn net.Conn, address string) error {
	atyp, dstAddr, dstPort, err := txsocks5.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("parse address: %w", err)
	}
	if atyp == txsocks5.ATYPDomain {
		dstAddr = dstAddr[1:]
		if len(dstAddr) == 0 || len(dstAddr) > 255 {
			return fmt.Errorf("parse address: invalid hostname length %d", len(dstAddr))
		}
	}

	if _, err := txsocks5.NewRequest(txsocks5.CmdConnect, atyp, dstAddr, dstPort).WriteTo(conn); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	rep, err := txsocks5.NewReplyFrom(conn)
	if err != nil {
		return readError("read reply", err)
	}
	if rep.Ver != txsocks5.Ver {
		return &ProtocolError{Op: "connect", Err: fmt.Errorf("unexpected version 0x%02x", rep.Ver)}
	}
	if rep.Rep != txsocks5.RepSuccess {
		return &ProtocolError{Op: "connect", Err: &ReplyError{Code: rep.Rep}}
	}
	return nil
}

// readError keeps socket faults (resets, timeouts) as they are and turns
// everything else, including short reads, into a ProtocolError.
func readError(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &ProtocolError{Op: op, Err: err}
}
