package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DefaultSOCKS5Port is used when the proxy URL has no port.
const DefaultSOCKS5Port = "1080"

// New parses proxy and constructs a SOCKS5 proxy dialer for it.
//
// Accepted forms:
//   - socks5://host[:port]
//   - socks5h://host[:port] (hostnames are always resolved by the proxy)
//   - host:port
//
// Credentials are rejected; only the no-authentication method is supported.
func New(cfg Config, proxy string) (*SOCKS5ProxyDialer, error) {
	addr, err := ParseProxyAddr(proxy)
	if err != nil {
		return nil, err
	}
	return NewSOCKS5ProxyDialer(cfg, addr), nil
}

// ParseProxyAddr validates a proxy URL and returns its host:port.
func ParseProxyAddr(proxy string) (string, error) {
	if !strings.Contains(proxy, "://") {
		proxy = "socks5://" + proxy
	}

	u, err := url.Parse(proxy)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "socks5", "socks5h":
	default:
		return "", fmt.Errorf("invalid url scheme: %q", u.Scheme)
	}
	if u.User != nil {
		return "", errors.New("invalid url: socks5 authentication is not supported")
	}
	if u.Path != "" && u.Path != "/" {
		return "", errors.New("invalid url: path should be empty")
	}

	host := u.Hostname()
	if host == "" {
		return "", errors.New("invalid url: missing host")
	}
	port := u.Port()
	if port == "" {
		port = DefaultSOCKS5Port
	}
	return net.JoinHostPort(host, port), nil
}
