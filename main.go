/*
Command sockstunnel sends HTTP(S) requests through a SOCKS5 proxy such as a
Tor daemon, reusing one tunnel connection per destination.

Without --http-listen it fetches each URL given as an argument and writes the
response bodies to stdout in argument order. With --http-listen it serves a
local plain-HTTP forward proxy; a client can ask for an https upstream leg
with the X-Proxy-Scheme: https request header.

Every flag can also be set from the environment with the SOCKSTUNNEL_ prefix,
e.g. SOCKSTUNNEL_IO_TIMEOUT=30s. Flags given on the command line win.
*/
package main

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/sockstunnel/internal/dialer"
	"github.com/die-net/sockstunnel/internal/pool"
	"github.com/die-net/sockstunnel/internal/proxy"
	"github.com/die-net/sockstunnel/internal/tunnel"
)

const envPrefix = "SOCKSTUNNEL_"

// Config holds all configuration.
type Config struct {
	Proxy      string `koanf:"proxy"`
	HTTPListen string `koanf:"http-listen"`

	DebugListen string `koanf:"debug-listen"`

	DialTimeout         time.Duration `koanf:"dial-timeout"`
	NegotiationTimeout  time.Duration `koanf:"negotiation-timeout"`
	TLSHandshakeTimeout time.Duration `koanf:"tls-handshake-timeout"`
	IOTimeout           time.Duration `koanf:"io-timeout"`
	HTTPIdleTimeout     time.Duration `koanf:"http-idle-timeout"`
	TCPKeepAlive        string        `koanf:"tcp-keepalive"`

	TLSMinVersion     string `koanf:"tls-min-version"`
	TLSMaxVersion     string `koanf:"tls-max-version"`
	CAFile            string `koanf:"ca-file"`
	Insecure          bool   `koanf:"insecure"`
	NoRevocationCheck bool   `koanf:"no-revocation-check"`

	Method  string   `koanf:"method"`
	Data    string   `koanf:"data"`
	Headers []string `koanf:"-"`
	Include bool     `koanf:"include"`

	LogLevel string `koanf:"log-level"`
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("sockstunnel", pflag.ContinueOnError)
	flags.SortFlags = false

	flags.String("proxy", "socks5://127.0.0.1:9050", "SOCKS5 proxy: socks5://host[:port] or host:port (no authentication)")
	flags.String("http-listen", "", "HTTP forward proxy listen address (e.g. 127.0.0.1:8118). Empty fetches the URL arguments instead.")
	flags.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")

	flags.Duration("dial-timeout", 10*time.Second, "Timeout for the TCP connect to the proxy")
	flags.Duration("negotiation-timeout", 30*time.Second, "Timeout for the SOCKS5 greeting and CONNECT")
	flags.Duration("tls-handshake-timeout", 30*time.Second, "Timeout for the TLS handshake with https destinations")
	flags.Duration("io-timeout", 2*time.Minute, "Timeout for writing a request and reading its response (0 disables)")
	flags.Duration("http-idle-timeout", 4*time.Minute, "Timeout for idle HTTP proxy client connections")
	flags.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")

	flags.String("tls-min-version", "1.2", "Minimum TLS version for https destinations: 1.0|1.1|1.2|1.3")
	flags.String("tls-max-version", "", "Maximum TLS version for https destinations (empty for the highest supported)")
	flags.String("ca-file", "", "PEM file of extra trusted root certificates")
	flags.Bool("insecure", false, "Skip certificate validation for https destinations")
	flags.Bool("no-revocation-check", false, "Skip the stapled OCSP revocation check")

	flags.StringP("method", "X", http.MethodGet, "Request method when fetching URLs")
	flags.StringP("data", "d", "", "Request body when fetching URLs")
	flags.StringArrayP("header", "H", nil, "Extra request header \"Name: value\" when fetching URLs (repeatable)")
	flags.BoolP("include", "i", false, "Print the status line and response headers before the body")

	flags.String("log-level", "info", "Log level: debug|info|warn|error")

	return flags
}

// loadConfig layers the environment under the command-line flags and returns
// the configuration and the positional arguments.
func loadConfig(args []string) (Config, []string, error) {
	flags := newFlagSet()
	if err := flags.Parse(args); err != nil {
		return Config{}, nil, err
	}

	k := koanf.New(".")
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", "-")
	}), nil); err != nil {
		return Config{}, nil, fmt.Errorf("load env: %w", err)
	}
	if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
		return Config{}, nil, fmt.Errorf("load flags: %w", err)
	}

	var conf Config
	if err := k.Unmarshal("", &conf); err != nil {
		return Config{}, nil, fmt.Errorf("unmarshal config: %w", err)
	}

	headers, err := flags.GetStringArray("header")
	if err != nil {
		return Config{}, nil, err
	}
	conf.Headers = headers

	return conf, flags.Args(), nil
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	conf, urls, err := loadConfig(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	logger, err := newLogger(conf.LogLevel)
	if err != nil {
		return err
	}

	ka, err := parseTCPKeepAlive(conf.TCPKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	tcfg, err := tunnelConfig(conf, logger)
	if err != nil {
		return err
	}

	dialCfg := dialer.Config{
		DialTimeout:        conf.DialTimeout,
		NegotiationTimeout: conf.NegotiationTimeout,
		KeepAlive:          ka,
	}
	d, err := dialer.New(dialCfg, conf.Proxy)
	if err != nil {
		return fmt.Errorf("invalid --proxy: %w", err)
	}

	p := pool.New(tcfg, d, pool.WithLogger(logger), pool.WithInsecureSkipVerify(conf.Insecure))
	defer p.Close()

	if conf.HTTPListen == "" {
		if len(urls) == 0 {
			return errors.New("nothing to do (pass URLs to fetch or set --http-listen)")
		}
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		return fetchAll(ctx, p, conf, urls, stdout)
	}

	return serve(ctx, p, conf, ka, logger)
}

func tunnelConfig(conf Config, logger *slog.Logger) (tunnel.Config, error) {
	minVersion, err := tunnel.ParseTLSVersion(conf.TLSMinVersion)
	if err != nil {
		return tunnel.Config{}, fmt.Errorf("invalid --tls-min-version: %w", err)
	}
	maxVersion, err := tunnel.ParseTLSVersion(conf.TLSMaxVersion)
	if err != nil {
		return tunnel.Config{}, fmt.Errorf("invalid --tls-max-version: %w", err)
	}
	if maxVersion != 0 && minVersion > maxVersion {
		return tunnel.Config{}, errors.New("--tls-min-version is above --tls-max-version")
	}

	tcfg := tunnel.Config{
		IOTimeout:              conf.IOTimeout,
		TLSHandshakeTimeout:    conf.TLSHandshakeTimeout,
		TLSMinVersion:          minVersion,
		TLSMaxVersion:          maxVersion,
		DisableRevocationCheck: conf.NoRevocationCheck,
		Logger:                 logger,
	}

	if conf.CAFile != "" {
		pem, err := os.ReadFile(conf.CAFile)
		if err != nil {
			return tunnel.Config{}, fmt.Errorf("read --ca-file: %w", err)
		}
		roots, err := x509.SystemCertPool()
		if err != nil {
			roots = x509.NewCertPool()
		}
		if !roots.AppendCertsFromPEM(pem) {
			return tunnel.Config{}, fmt.Errorf("no certificates found in %s", conf.CAFile)
		}
		tcfg.RootCAs = roots
	}

	return tcfg, nil
}

// fetchAll fetches urls concurrently and writes the results in argument
// order. It returns the first error after writing every completed result.
func fetchAll(ctx context.Context, p *pool.Pool, conf Config, urls []string, stdout io.Writer) error {
	results := make([]bytes.Buffer, len(urls))

	g, ctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		g.Go(func() error {
			return fetch(ctx, p, conf, u, &results[i])
		})
	}
	err := g.Wait()

	for i := range results {
		if _, werr := stdout.Write(results[i].Bytes()); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

func fetch(ctx context.Context, p *pool.Pool, conf Config, target string, w *bytes.Buffer) error {
	var body io.Reader
	if conf.Data != "" {
		body = strings.NewReader(conf.Data)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(conf.Method), target, body)
	if err != nil {
		return fmt.Errorf("%s: %w", target, err)
	}
	for _, h := range conf.Headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return fmt.Errorf("invalid --header %q: expected \"Name: value\"", h)
		}
		name = strings.TrimSpace(name)
		if strings.EqualFold(name, "Host") {
			req.Host = strings.TrimSpace(value)
			continue
		}
		req.Header.Add(name, strings.TrimSpace(value))
	}

	resp, err := p.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", target, err)
	}
	defer resp.Body.Close()

	if conf.Include {
		_, _ = fmt.Fprintf(w, "%s %s\r\n", resp.Proto, resp.Status)
		_ = resp.Header.Write(w)
		_, _ = w.WriteString("\r\n")
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("%s: %w", target, err)
	}
	return nil
}

func serve(ctx context.Context, p *pool.Pool, conf Config, ka net.KeepAliveConfig, logger *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.DebugListen != "" {
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		debugLn, err := proxy.ListenTCP(ctx, conf.DebugListen, ka)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		logger.Info("debug listening", "addr", debugLn.Addr().String())
	}

	ln, err := proxy.ListenTCP(ctx, conf.HTTPListen, ka)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	srv := proxy.NewHTTPProxyServer(ctx, proxy.Config{
		HeaderTimeout: conf.NegotiationTimeout,
		IdleTimeout:   conf.HTTPIdleTimeout,
		Transport:     p,
		Logger:        logger,
	})
	context.AfterFunc(ctx, func() {
		_ = srv.Close()
		_ = ln.Close()
	})

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil {
			return fmt.Errorf("http proxy serve: %w", err)
		}
		return nil
	})
	logger.Info("http proxy listening", "addr", ln.Addr().String(), "proxy", conf.Proxy)

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	logger.Info("shutting down")
	return err
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := parsePositiveInt(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}
