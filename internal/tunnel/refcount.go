package tunnel

// AddReference registers a holder of c.
func (c *Conn) AddReference() {
	c.refs.Add(1)
}

// RemoveReference releases a holder of c and reports whether this call
// dropped the last reference and destroyed the transport. Calls with no
// references held are ignored and report false.
func (c *Conn) RemoveReference() bool {
	for {
		n := c.refs.Load()
		if n <= 0 {
			return false
		}
		if !c.refs.CompareAndSwap(n, n-1) {
			continue
		}
		if n-1 != 0 {
			return false
		}
		c.destroyTransport()
		return true
	}
}

// References returns the current reference count.
func (c *Conn) References() int64 {
	return c.refs.Load()
}

// destroyTransport closes the current generation, if any. It is idempotent.
func (c *Conn) destroyTransport() {
	c.mu.Lock()
	defer c.mu.Unlock()

	g := c.gen.Swap(nil)
	if g == nil {
		return
	}
	g.close()
	c.logger.Debug("tunnel closed", "gen", g.id, "destination", c.destAddr)
}
