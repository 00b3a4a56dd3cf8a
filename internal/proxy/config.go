package proxy

import (
	"log/slog"
	"net/http"
	"time"
)

type Config struct {
	// HeaderTimeout bounds reading a client's request headers.
	HeaderTimeout time.Duration

	// IdleTimeout bounds idle client keep-alive connections.
	IdleTimeout time.Duration

	// Transport carries forwarded requests, normally a *pool.Pool.
	Transport http.RoundTripper

	Logger *slog.Logger
}
