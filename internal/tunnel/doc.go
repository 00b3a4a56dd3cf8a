package tunnel

// Package tunnel implements a reusable HTTP(S) connection to one destination
// carried through a SOCKS5 proxy.
//
// A [Conn] is created disconnected. The first [Conn.SendRequest] dials the
// proxy, performs the SOCKS5 greeting and CONNECT, upgrades to TLS for https
// destinations, and keeps the resulting stream (a "generation") for later
// requests. A generation that fails is torn down immediately, so the next
// request starts from a fresh handshake.
//
// Ownership is shared by reference counting: holders call
// [Conn.AddReference] before use and [Conn.RemoveReference] when done, and the
// stream is closed exactly once when the count reaches zero.
//
// SendRequest is not safe for concurrent use on one Conn; callers serialize
// requests per connection (see internal/pool).
