package loadbalancer

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/adi3g/guardian/internal/config"
)

// cooldown is how long a failed upstream stays excluded before it is
// re-admitted optimistically (no probe).
const cooldown = 60 * time.Second

// Upstream identifies a configured origin server. The value is
// immutable; runtime health and connection state is tracked by the
// balancer, keyed by address.
type Upstream struct {
	Address string
	Port    int
}

// HostPort returns the address:port dial target.
func (u Upstream) HostPort() string {
	return net.JoinHostPort(u.Address, strconv.Itoa(u.Port))
}

// Status is a point-in-time view of one upstream's runtime state.
type Status struct {
	Upstream          Upstream
	Healthy           bool
	ActiveConnections int64
}

// Balancer selects the next upstream for a request and tracks observed
// failures and in-flight connection counts.
type Balancer interface {
	// Next returns the next upstream, or errors.ErrNoHealthyUpstream
	// when every server is excluded.
	Next() (Upstream, error)
	// MarkFailed excludes an upstream after an observed transport
	// failure. A no-op when health checking is disabled.
	MarkFailed(u Upstream)
	// Acquire increments the upstream's active connection count.
	Acquire(u Upstream)
	// Release decrements the count, clamping at zero. It must run on
	// every exit path that ran Acquire, including failures.
	Release(u Upstream)
	// Snapshot returns the runtime state of every configured upstream.
	Snapshot() []Status
}

// New creates a balancer for the configured strategy.
func New(cfg config.LoadBalancingConfig) (Balancer, error) {
	servers := make([]Upstream, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers = append(servers, Upstream{Address: s.Address, Port: s.Port})
	}

	pool := newBasePool(servers, cfg.HealthChecking)

	switch cfg.Strategy {
	case config.StrategyRoundRobin, "":
		return &RoundRobin{basePool: pool}, nil
	case config.StrategyRandom:
		return &Random{basePool: pool}, nil
	case config.StrategyLeastConnections:
		return &LeastConnections{basePool: pool}, nil
	}
	return nil, fmt.Errorf("unsupported load balancing strategy: %s", cfg.Strategy)
}

// basePool provides the shared server list, health tracking, and
// connection accounting for all strategies. All mutation is serialized
// by a single mutex; critical sections are small.
type basePool struct {
	mu             sync.Mutex
	servers        []Upstream // declaration order, never mutated
	conns          map[string]int64
	healthChecking bool
	failedAt       map[string]time.Time // presence = currently excluded
	now            func() time.Time
}

func newBasePool(servers []Upstream, healthChecking bool) basePool {
	conns := make(map[string]int64, len(servers))
	for _, s := range servers {
		conns[s.Address] = 0
	}
	return basePool{
		servers:        servers,
		conns:          conns,
		healthChecking: healthChecking,
		failedAt:       make(map[string]time.Time),
		now:            time.Now,
	}
}

// isHealthy reports whether the upstream at addr is currently admitted,
// re-admitting it when its cooldown has elapsed. Caller must hold mu.
func (p *basePool) isHealthy(addr string) bool {
	failed, ok := p.failedAt[addr]
	if !ok {
		return true
	}
	if p.now().Sub(failed) > cooldown {
		delete(p.failedAt, addr)
		return true
	}
	return false
}

// healthyServers returns the admitted servers in declaration order.
// Caller must hold mu.
func (p *basePool) healthyServers() []Upstream {
	if len(p.failedAt) == 0 {
		return p.servers
	}
	healthy := make([]Upstream, 0, len(p.servers))
	for _, s := range p.servers {
		if p.isHealthy(s.Address) {
			healthy = append(healthy, s)
		}
	}
	return healthy
}

// MarkFailed excludes the upstream until its cooldown elapses.
func (p *basePool) MarkFailed(u Upstream) {
	if !p.healthChecking {
		return
	}
	p.mu.Lock()
	p.failedAt[u.Address] = p.now()
	p.mu.Unlock()
}

// Acquire increments the upstream's active connection count.
func (p *basePool) Acquire(u Upstream) {
	p.mu.Lock()
	p.conns[u.Address]++
	p.mu.Unlock()
}

// Release decrements the count, clamping at zero.
func (p *basePool) Release(u Upstream) {
	p.mu.Lock()
	if n := p.conns[u.Address] - 1; n >= 0 {
		p.conns[u.Address] = n
	} else {
		p.conns[u.Address] = 0
	}
	p.mu.Unlock()
}

// Snapshot returns the runtime state of every configured upstream.
func (p *basePool) Snapshot() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]Status, 0, len(p.servers))
	for _, s := range p.servers {
		statuses = append(statuses, Status{
			Upstream:          s,
			Healthy:           p.isHealthy(s.Address),
			ActiveConnections: p.conns[s.Address],
		})
	}
	return statuses
}
