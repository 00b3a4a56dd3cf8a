package tunnel

// IsLive reports whether the current transport generation looks usable.
//
// The check is cheap and optimistic: it trusts the socket's own error state
// and does no I/O, so a peer that closed cleanly still looks live until the
// next request fails on it. That request tears the generation down and
// reports a *TransportError, and the one after reconnects.
//
// A probe failure makes the connection not live. With strict set, the
// failure is also returned as a *TransportError.
func (c *Conn) IsLive(strict bool) (bool, error) {
	g := c.gen.Load()
	if g == nil {
		return false, nil
	}
	if err := socketError(g.raw); err != nil {
		if strict {
			return false, &TransportError{Op: "probe", Err: err}
		}
		return false, nil
	}
	return true, nil
}
