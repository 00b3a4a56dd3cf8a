package socks5

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	txsocks5 "github.com/txthinking/socks5"
	"golang.org/x/sync/errgroup"
)

func TestClientDialToServer(t *testing.T) {
	tests := []struct {
		name    string
		address string
		atyp    byte
	}{
		{name: "ipv4", address: "127.0.0.1:80", atyp: txsocks5.ATYPIPv4},
		{name: "ipv6", address: "[::1]:443", atyp: txsocks5.ATYPIPv6},
		{name: "domain", address: "example.onion:80", atyp: txsocks5.ATYPDomain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			g := errgroup.Group{}
			g.Go(func() error {
				defer serverConn.Close()
				if err := ServerNegotiateNoAuth(serverConn); err != nil {
					return err
				}

				req, err := ServerReadRequest(serverConn)
				if err != nil {
					return err
				}
				if req.Cmd != CmdConnect {
					return fmt.Errorf("unexpected command: %d", req.Cmd)
				}
				if req.Atyp != tt.atyp {
					return fmt.Errorf("unexpected address type: %d", req.Atyp)
				}
				if got := req.Address(); got != tt.address {
					return fmt.Errorf("unexpected address: %s", got)
				}

				return WriteSuccessReply(serverConn, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345})
			})

			if err := ClientDial(clientConn, tt.address); err != nil {
				t.Fatal(err)
			}
			if err := g.Wait(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestClientDialWireFormat(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	wantGreeting := []byte{0x05, 0x01, 0x00}
	wantConnect := append([]byte{0x05, 0x01, 0x00, 0x03, 0x0c}, "example.test"...)
	wantConnect = append(wantConnect, 0x00, 0x50)

	g := errgroup.Group{}
	g.Go(func() error {
		defer serverConn.Close()
		got := make([]byte, len(wantGreeting))
		if _, err := io.ReadFull(serverConn, got); err != nil {
			return err
		}
		if !bytes.Equal(got, wantGreeting) {
			return fmt.Errorf("greeting = % x, want % x", got, wantGreeting)
		}
		if _, err := serverConn.Write([]byte{0x05, 0x00}); err != nil {
			return err
		}

		got = make([]byte, len(wantConnect))
		if _, err := io.ReadFull(serverConn, got); err != nil {
			return err
		}
		if !bytes.Equal(got, wantConnect) {
			return fmt.Errorf("connect = % x, want % x", got, wantConnect)
		}
		_, err := serverConn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		return err
	})

	if err := ClientDial(clientConn, "example.test:80"); err != nil {
		t.Fatal(err)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestClientConnectReplyCodes(t *testing.T) {
	tests := []struct {
		code byte
		want error
	}{
		{code: 0x01, want: ErrGeneralFailure},
		{code: 0x02, want: ErrNotAllowed},
		{code: 0x03, want: ErrNetworkUnreachable},
		{code: 0x04, want: ErrHostUnreachable},
		{code: 0x05, want: ErrConnectionRefused},
		{code: 0x06, want: ErrTTLExpired},
		{code: 0x07, want: ErrCommandNotSupported},
		{code: 0x08, want: ErrAddressNotSupported},
		{code: 0x42, want: ErrUnknownReply},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("rep_%02x", tt.code), func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			g := errgroup.Group{}
			g.Go(func() error {
				defer serverConn.Close()
				if _, err := ServerReadRequest(serverConn); err != nil {
					return err
				}
				return WriteReply(serverConn, tt.code, txsocks5.ATYPIPv4)
			})

			err := ClientConnect(clientConn, "example.onion:443")
			if !errors.Is(err, tt.want) {
				t.Fatalf("err=%v want %v", err, tt.want)
			}
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("expected *ProtocolError, got %T", err)
			}
			var rerr *ReplyError
			if !errors.As(err, &rerr) || rerr.Code != tt.code {
				t.Fatalf("expected *ReplyError with code %#x, got %v", tt.code, err)
			}
			if err := g.Wait(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestClientNegotiateFailures(t *testing.T) {
	tests := []struct {
		name  string
		reply []byte
	}{
		{name: "no_acceptable_methods", reply: []byte{0x05, 0xff}},
		{name: "userpass_required", reply: []byte{0x05, 0x02}},
		{name: "wrong_version", reply: []byte{0x04, 0x00}},
		{name: "short_reply", reply: []byte{0x05}},
		{name: "empty_reply", reply: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()

			g := errgroup.Group{}
			g.Go(func() error {
				defer serverConn.Close()
				greeting := make([]byte, 3)
				if _, err := io.ReadFull(serverConn, greeting); err != nil {
					return err
				}
				if len(tt.reply) == 0 {
					return nil
				}
				_, err := serverConn.Write(tt.reply)
				return err
			})

			err := ClientNegotiate(clientConn)
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("expected *ProtocolError, got %v", err)
			}
			if err := g.Wait(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestClientConnectInvalidAddress(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	if err := ClientConnect(clientConn, "missing-port"); err == nil {
		t.Fatal("expected error")
	}
}
