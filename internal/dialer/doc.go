package dialer

// Package dialer opens the raw byte streams a tunnel runs on.
//
// A direct dialer reaches the SOCKS5 proxy endpoint over TCP; the SOCKS5
// proxy dialer layers the greeting and CONNECT exchange on top of it and
// returns the raw stream to the requested destination.
