package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/die-net/sockstunnel/internal/tunnel"
)

// ErrClosed is returned by Do after Close.
var ErrClosed = errors.New("pool: closed")

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool's logger. The tunnel connections log through
// tunnel.Config.Logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithInsecureSkipVerify disables certificate validation for every https
// destination reached through the pool.
func WithInsecureSkipVerify(insecure bool) Option {
	return func(p *Pool) {
		p.insecure = insecure
	}
}

// Pool is an http.RoundTripper sending each request over the cached
// tunnel.Conn for its destination.
type Pool struct {
	cfg      tunnel.Config
	proxy    tunnel.ProxyDialer
	logger   *slog.Logger
	insecure bool

	mu      sync.Mutex
	closed  bool
	entries map[string]*entry
}

type entry struct {
	conn *tunnel.Conn

	// mu serializes SendRequest on conn.
	mu sync.Mutex
}

// New returns an empty pool dialing through proxy.
func New(cfg tunnel.Config, proxy tunnel.ProxyDialer, opts ...Option) *Pool {
	p := &Pool{
		cfg:     cfg,
		proxy:   proxy,
		logger:  slog.New(slog.DiscardHandler),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Key returns the cache key for u: lowercased scheme://host:port with the
// scheme's default port filled in.
func Key(u *url.URL) (string, error) {
	if u == nil {
		return "", errors.New("pool: nil URL")
	}

	scheme := strings.ToLower(u.Scheme)
	port := u.Port()
	switch scheme {
	case "http":
		if port == "" {
			port = "80"
		}
	case "https":
		if port == "" {
			port = "443"
		}
	default:
		return "", fmt.Errorf("pool: unsupported scheme %q", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("pool: %q has no host", u.String())
	}
	return scheme + "://" + net.JoinHostPort(host, port), nil
}

// Do sends req over the connection for its destination and returns the
// response with its body fully read.
func (p *Pool) Do(req *http.Request) (*http.Response, error) {
	e, err := p.acquire(req.URL)
	if err != nil {
		closeBody(req)
		return nil, err
	}
	defer p.release(e)

	e.mu.Lock()
	defer e.mu.Unlock()

	ctx := req.Context()
	out := req.Clone(ctx)
	resp, err := e.conn.SendRequest(ctx, out, p.insecure)
	if err == nil {
		return resp, nil
	}

	var terr *tunnel.TransportError
	if !errors.As(err, &terr) || ctx.Err() != nil {
		closeBody(req)
		return nil, err
	}

	retry, ok := rewind(req, out)
	if !ok {
		closeBody(req)
		return nil, err
	}

	p.logger.Debug("pool retrying request", "method", req.Method, "url", req.URL.Redacted(), "err", err)
	return e.conn.SendRequest(ctx, retry, p.insecure)
}

// RoundTrip implements http.RoundTripper.
func (p *Pool) RoundTrip(req *http.Request) (*http.Response, error) {
	return p.Do(req)
}

// Close releases the pool's references. Connections with requests in flight
// are torn down when those requests finish.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	entries := p.entries
	p.entries = nil
	p.mu.Unlock()

	for key, e := range entries {
		if e.conn.RemoveReference() {
			p.logger.Debug("pool connection closed", "key", key)
		}
	}
	return nil
}

// Len returns the number of cached destinations.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Pool) acquire(u *url.URL) (*entry, error) {
	key, err := Key(u)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}

	e, ok := p.entries[key]
	if !ok {
		conn, err := tunnel.New(p.cfg, p.proxy, &url.URL{Scheme: u.Scheme, Host: u.Host})
		if err != nil {
			return nil, err
		}
		conn.AddReference()
		e = &entry{conn: conn}
		p.entries[key] = e
		p.logger.Debug("pool connection created", "key", key, "proxy", p.proxy.ProxyAddr())
	}

	e.conn.AddReference()
	return e, nil
}

func (p *Pool) release(e *entry) {
	e.conn.RemoveReference()
}

// rewind prepares a fresh copy of req for a retry. sent is the copy that
// failed; framing may have installed GetBody on it.
func rewind(req, sent *http.Request) (*http.Request, bool) {
	retry := req.Clone(req.Context())

	switch {
	case req.Body == nil || req.Body == http.NoBody:
		retry.Body = sent.Body
		if sent.GetBody != nil {
			body, err := sent.GetBody()
			if err != nil {
				return nil, false
			}
			retry.Body = body
		}
	case sent.GetBody != nil:
		body, err := sent.GetBody()
		if err != nil {
			return nil, false
		}
		retry.Body = body
	default:
		return nil, false
	}

	retry.ContentLength = sent.ContentLength
	retry.GetBody = sent.GetBody
	return retry, true
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
