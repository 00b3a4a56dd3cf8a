package testutil

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/sockstunnel/internal/socks5"
)

// SOCKS5ProxyOptions scripts the behavior of a SOCKS5Proxy.
type SOCKS5ProxyOptions struct {
	// Reply, when non-zero, is sent instead of a successful CONNECT reply.
	Reply byte

	// Target, when set, is dialed instead of the requested destination.
	Target string

	// Hijack is called for the n-th accepted connection (1-based) after the
	// success reply. Returning true skips the relay to the destination.
	Hijack func(n int, c net.Conn) bool
}

// SOCKS5Proxy is a no-auth SOCKS5 CONNECT proxy listening on loopback.
type SOCKS5Proxy struct {
	ln   net.Listener
	opts SOCKS5ProxyOptions

	accepted atomic.Int32

	mu       sync.Mutex
	requests []string

	wg sync.WaitGroup
}

// StartSOCKS5Proxy starts a proxy that serves until ctx is done or the test
// finishes.
func StartSOCKS5Proxy(t *testing.T, ctx context.Context, opts SOCKS5ProxyOptions) *SOCKS5Proxy {
	t.Helper()

	p := &SOCKS5Proxy{ln: listenLoopback(t, ctx), opts: opts}
	p.wg.Go(func() {
		p.serve(ctx)
	})
	t.Cleanup(p.Close)

	return p
}

// Addr returns the proxy's host:port.
func (p *SOCKS5Proxy) Addr() string {
	return p.ln.Addr().String()
}

// Accepted returns the number of TCP connections accepted so far.
func (p *SOCKS5Proxy) Accepted() int {
	return int(p.accepted.Load())
}

// Requests returns the CONNECT destinations received, in order.
func (p *SOCKS5Proxy) Requests() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.requests...)
}

// Close stops accepting and waits for connection handlers to exit.
func (p *SOCKS5Proxy) Close() {
	_ = p.ln.Close()
	p.wg.Wait()
}

func (p *SOCKS5Proxy) serve(ctx context.Context) {
	for {
		c, err := p.ln.Accept()
		if err != nil {
			return
		}
		n := int(p.accepted.Add(1))
		p.wg.Go(func() {
			defer c.Close()
			stop := context.AfterFunc(ctx, func() {
				_ = c.Close()
			})
			defer stop()
			p.handle(ctx, n, c)
		})
	}
}

func (p *SOCKS5Proxy) handle(ctx context.Context, n int, c net.Conn) {
	if err := socks5.ServerNegotiateNoAuth(c); err != nil {
		return
	}
	req, err := socks5.ServerReadRequest(c)
	if err != nil {
		return
	}

	p.mu.Lock()
	p.requests = append(p.requests, req.Address())
	p.mu.Unlock()

	if req.Cmd != txsocks5.CmdConnect {
		_ = socks5.WriteReply(c, txsocks5.RepCommandNotSupported, req.Atyp)
		return
	}
	if p.opts.Reply != txsocks5.RepSuccess {
		_ = socks5.WriteReply(c, p.opts.Reply, req.Atyp)
		return
	}

	target := req.Address()
	if p.opts.Target != "" {
		target = p.opts.Target
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		_ = socks5.WriteReply(c, txsocks5.RepHostUnreachable, req.Atyp)
		return
	}
	defer dst.Close()

	if err := socks5.WriteSuccessReply(c, dst.LocalAddr()); err != nil {
		return
	}
	if p.opts.Hijack != nil && p.opts.Hijack(n, c) {
		return
	}

	_ = Relay(ctx, c, dst)
}

// AnswerOnce returns a Hijack func for the first proxied connection: it
// answers the first request itself with a 200 carrying body, then reads one
// more request and closes. With reset set the close sends a TCP RST.
// Later connections are relayed normally.
func AnswerOnce(body string, reset bool) func(int, net.Conn) bool {
	return func(n int, c net.Conn) bool {
		if n != 1 {
			return false
		}

		br := bufio.NewReader(c)
		req, err := http.ReadRequest(br)
		if err != nil {
			return true
		}
		_, _ = io.Copy(io.Discard, req.Body)
		_, _ = fmt.Fprintf(c, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(body), body)

		if !reset {
			return true
		}
		if req, err = http.ReadRequest(br); err == nil {
			_, _ = io.Copy(io.Discard, req.Body)
		}
		if tc, ok := c.(*net.TCPConn); ok {
			_ = tc.SetLinger(0)
		}
		return true
	}
}

// DiscardForever is a Hijack func that reads and never answers.
func DiscardForever(_ int, c net.Conn) bool {
	_, _ = io.Copy(io.Discard, c)
	return true
}
