package loadbalancer

import (
	"math/rand"

	"github.com/adi3g/guardian/internal/errors"
)

// Random picks uniformly from the healthy pool.
type Random struct {
	basePool
}

// Next returns a uniformly random healthy upstream.
func (r *Random) Next() (Upstream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	healthy := r.healthyServers()
	if len(healthy) == 0 {
		return Upstream{}, errors.ErrNoHealthyUpstream
	}
	return healthy[rand.Intn(len(healthy))], nil
}
