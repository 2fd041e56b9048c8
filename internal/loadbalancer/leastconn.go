package loadbalancer

import "github.com/adi3g/guardian/internal/errors"

// LeastConnections picks the healthy upstream with the fewest active
// connections. Ties are broken by declaration order.
type LeastConnections struct {
	basePool
}

// Next returns the healthy upstream with the lowest connection count.
func (lc *LeastConnections) Next() (Upstream, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	healthy := lc.healthyServers()
	if len(healthy) == 0 {
		return Upstream{}, errors.ErrNoHealthyUpstream
	}

	best := healthy[0]
	bestConns := lc.conns[best.Address]
	for _, u := range healthy[1:] {
		if n := lc.conns[u.Address]; n < bestConns {
			best = u
			bestConns = n
		}
	}
	return best, nil
}
