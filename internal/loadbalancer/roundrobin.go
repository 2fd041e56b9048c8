package loadbalancer

import "github.com/adi3g/guardian/internal/errors"

// RoundRobin cycles through the pool in declaration order, skipping
// excluded servers. The cursor indexes the full list so a server that
// recovers resumes its original slot in the cycle.
type RoundRobin struct {
	basePool
	cursor uint64
}

// Next returns the next healthy upstream in cyclic order.
func (rr *RoundRobin) Next() (Upstream, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if len(rr.servers) == 0 {
		return Upstream{}, errors.ErrNoHealthyUpstream
	}

	for range rr.servers {
		u := rr.servers[rr.cursor%uint64(len(rr.servers))]
		rr.cursor++
		if rr.isHealthy(u.Address) {
			return u, nil
		}
	}
	return Upstream{}, errors.ErrNoHealthyUpstream
}
