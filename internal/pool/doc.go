package pool

// Package pool caches one tunnel.Conn per destination and drives its
// reference count.
//
// The pool holds one reference on every cached connection and each request
// in flight holds another, so a connection outlives Close until its last
// request finishes. Requests to the same destination are serialized on its
// connection. A request that fails with a transport fault is retried once
// when its body can be replayed.
