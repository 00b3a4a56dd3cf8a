package tunnel

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config holds per-connection settings that do not concern reaching the
// proxy itself; those live in dialer.Config.
type Config struct {
	// IOTimeout bounds writing a request and reading its response. Zero
	// means no timeout.
	IOTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake with https destinations.
	// Zero means no timeout.
	TLSHandshakeTimeout time.Duration

	// TLSMinVersion defaults to TLS 1.2. TLSMaxVersion zero means the highest
	// version crypto/tls supports.
	TLSMinVersion uint16
	TLSMaxVersion uint16

	// RootCAs verifies destination certificates; nil uses the system pool.
	RootCAs *x509.CertPool

	// DisableRevocationCheck skips the stapled OCSP check.
	DisableRevocationCheck bool

	Logger *slog.Logger
}

func (c *Config) minTLSVersion() uint16 {
	if c.TLSMinVersion == 0 {
		return tls.VersionTLS12
	}
	return c.TLSMinVersion
}

func (c *Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

// ParseTLSVersion parses "1.0" through "1.3", optionally prefixed with
// "tls". The empty string yields 0, meaning the default.
func ParseTLSVersion(s string) (uint16, error) {
	v := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "tls")
	switch strings.TrimSpace(v) {
	case "":
		return 0, nil
	case "1.0":
		return tls.VersionTLS10, nil
	case "1.1":
		return tls.VersionTLS11, nil
	case "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unknown TLS version %q", s)
	}
}
