package proxy

// Package proxy implements the local plain-HTTP forward proxy that sends
// requests through tunnel connections.
//
// Requests arrive in absolute form from HTTP clients configured to use the
// proxy and are forwarded by an httputil.ReverseProxy whose transport is the
// connection pool. CONNECT is refused: a tunnel connection carries HTTP
// messages, not raw byte streams.
