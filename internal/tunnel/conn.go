package tunnel

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/die-net/sockstunnel/internal/dialer"
	"github.com/die-net/sockstunnel/internal/httpmsg"
	"github.com/die-net/sockstunnel/internal/socks5"
)

// ProxyDialer opens a raw TCP stream to an address through a SOCKS5 proxy.
// *dialer.SOCKS5ProxyDialer implements it.
type ProxyDialer interface {
	dialer.Dialer
	ProxyAddr() string
}

// Conn is a reference-counted connection to one destination through one
// SOCKS5 proxy. The zero value is not usable; construct with New.
type Conn struct {
	cfg         Config
	logger      *slog.Logger
	proxy       ProxyDialer
	destination url.URL
	destAddr    string

	refs atomic.Int64

	// mu serializes teardown with publication of a new generation.
	mu  sync.Mutex
	gen atomic.Pointer[generation]
}

// New returns a disconnected Conn for destination, which must be an http or
// https URL with a host. No I/O happens until the first SendRequest.
func New(cfg Config, proxy ProxyDialer, destination *url.URL) (*Conn, error) {
	if proxy == nil {
		return nil, errors.New("tunnel: nil proxy dialer")
	}
	if destination == nil {
		return nil, errors.New("tunnel: nil destination")
	}

	dest := *destination
	dest.Scheme = strings.ToLower(dest.Scheme)
	port := dest.Port()
	switch dest.Scheme {
	case "http":
		if port == "" {
			port = "80"
		}
	case "https":
		if port == "" {
			port = "443"
		}
	default:
		return nil, fmt.Errorf("tunnel: unsupported destination scheme %q", destination.Scheme)
	}
	if dest.Hostname() == "" {
		return nil, fmt.Errorf("tunnel: destination %q has no host", destination.String())
	}

	return &Conn{
		cfg:         cfg,
		logger:      cfg.logger(),
		proxy:       proxy,
		destination: dest,
		destAddr:    net.JoinHostPort(dest.Hostname(), port),
	}, nil
}

// ProxyAddr returns the proxy's host:port.
func (c *Conn) ProxyAddr() string {
	return c.proxy.ProxyAddr()
}

// Destination returns a copy of the destination URL.
func (c *Conn) Destination() *url.URL {
	d := c.destination
	return &d
}

// SendRequest writes req on the current generation, establishing one first
// if needed, and returns the parsed response with its body fully read.
//
// ignoreCertValidation skips certificate checks for this request. A
// generation established that way is not reused by a later request that
// does validate.
//
// Any failure once bytes may have reached the wire tears the generation down.
// Socket faults are returned as *TransportError, handshake failures as
// *socks5.ProtocolError or *TLSError, and cancellation as ctx.Err().
func (c *Conn) SendRequest(ctx context.Context, req *http.Request, ignoreCertValidation bool) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g, err := c.ensureConnected(ctx, ignoreCertValidation)
	if err != nil {
		return nil, err
	}

	if err := httpmsg.EnsureContentLength(req); err != nil {
		return nil, err
	}
	buf, err := httpmsg.Marshal(ctx, req)
	if err != nil {
		return nil, err
	}
	defer httpmsg.Release(buf)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.cfg.IOTimeout > 0 {
		_ = g.stream.SetDeadline(time.Now().Add(c.cfg.IOTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = g.stream.SetDeadline(time.Now())
	})

	if _, err := g.stream.Write(buf.Bytes()); err != nil {
		stop()
		return nil, c.fail(ctx, g, "write", err)
	}
	if err := ctx.Err(); err != nil {
		stop()
		return nil, c.fail(ctx, g, "write", err)
	}

	resp, err := httpmsg.ReadResponse(ctx, g.br, req)
	if !stop() {
		// The cancellation deadline may be set on the stream.
		if err == nil {
			c.destroyTransport()
			return resp, nil
		}
	}
	if err != nil {
		return nil, c.fail(ctx, g, "read", err)
	}

	if c.cfg.IOTimeout > 0 {
		_ = g.stream.SetDeadline(time.Time{})
	}
	if resp.Close {
		c.logger.Debug("tunnel closing on response", "gen", g.id, "destination", c.destAddr)
		c.destroyTransport()
	}
	return resp, nil
}

// fail tears down the transport and classifies err.
func (c *Conn) fail(ctx context.Context, g *generation, op string, err error) error {
	c.destroyTransport()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if isTransportFault(err) {
		c.logger.Warn("tunnel transport fault", "gen", g.id, "destination", c.destAddr, "op", op, "err", err)
		return &TransportError{Op: op, Err: err}
	}
	return fmt.Errorf("tunnel %s: %w", op, err)
}

// ensureConnected returns a live generation usable under the requested
// validation mode, replacing the current one if necessary.
func (c *Conn) ensureConnected(ctx context.Context, ignoreCertValidation bool) (*generation, error) {
	if g := c.gen.Load(); g != nil {
		if g.insecure && !ignoreCertValidation {
			c.logger.Debug("tunnel reconnecting to validate certificate", "gen", g.id, "destination", c.destAddr)
		} else if socketError(g.raw) == nil {
			return g, nil
		}
		c.destroyTransport()
	}

	g, err := c.establish(ctx, ignoreCertValidation)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	old := c.gen.Swap(g)
	c.mu.Unlock()
	if old != nil {
		old.close()
	}

	attrs := []any{"gen", g.id, "proxy", c.proxy.ProxyAddr(), "destination", c.destAddr}
	if g.tlsVersion != 0 {
		attrs = append(attrs, "tls", tls.VersionName(g.tlsVersion), "insecure", g.insecure)
	}
	c.logger.Debug("tunnel established", attrs...)
	return g, nil
}

func (c *Conn) establish(ctx context.Context, ignoreCertValidation bool) (*generation, error) {
	raw, err := c.proxy.DialContext(ctx, "tcp", c.destAddr)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var perr *socks5.ProtocolError
		if errors.As(err, &perr) {
			c.logger.Warn("socks5 negotiation failed", "proxy", c.proxy.ProxyAddr(), "destination", c.destAddr, "err", err)
			return nil, err
		}
		return nil, &TransportError{Op: "connect", Err: err}
	}

	g := &generation{
		id:       uuid.NewString(),
		raw:      raw,
		stream:   raw,
		insecure: ignoreCertValidation,
	}

	if c.destination.Scheme == "https" {
		tlsConn := tls.Client(raw, c.tlsConfig(ignoreCertValidation))

		hctx := ctx
		if c.cfg.TLSHandshakeTimeout > 0 {
			var cancel context.CancelFunc
			hctx, cancel = context.WithTimeout(ctx, c.cfg.TLSHandshakeTimeout)
			defer cancel()
		}

		if err := tlsConn.HandshakeContext(hctx); err != nil {
			_ = raw.Close()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if hctx.Err() != nil {
				c.logger.Warn("tls handshake timed out", "destination", c.destAddr, "err", err)
				return nil, &TransportError{Op: "tls", Err: err}
			}
			c.logger.Warn("tls handshake failed", "destination", c.destAddr, "err", err)
			return nil, &TLSError{ServerName: c.destination.Hostname(), Err: err}
		}

		g.stream = tlsConn
		g.tlsVersion = tlsConn.ConnectionState().Version
	}

	g.br = bufio.NewReader(g.stream)
	return g, nil
}
