package socks5

// Package socks5 provides the small SOCKS5 client handshake used by
// sockstunnel, plus the server-side counterparts its tests run against.
//
// It wraps the low-level protocol types in github.com/txthinking/socks5 so the
// greeting and CONNECT exchange are encoded in one place, and turns proxy
// replies into typed errors the tunnel layer can branch on.
//
// Only the "no authentication required" method is offered.
