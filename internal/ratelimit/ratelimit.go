package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adi3g/guardian/internal/errors"
)

const (
	// window is the rolling interval over which requests are counted.
	window = time.Minute

	// maxTrackedClients bounds the bucket store so a large IP cardinality
	// cannot grow memory without limit. Evicted entries are the least
	// recently seen IPs, whether or not their windows still hold
	// timestamps; an evicted IP starts over with an empty window. Bans
	// live in a separate map and are not evicted.
	maxTrackedClients = 65536

	cleanupInterval = 5 * time.Minute
)

// clientBucket holds the request instants observed for one IP within the
// rolling window, oldest first.
type clientBucket struct {
	stamps []time.Time
}

// Limiter counts per-IP requests over a sliding 60-second window and
// installs temporary bans when the limit is reached. The threshold is
// inclusive: the request that finds the window full is the one banned.
type Limiter struct {
	maxRequests int
	banDuration time.Duration

	mu      sync.Mutex
	buckets *lru.Cache[string, *clientBucket]
	banned  map[string]time.Time // IP -> unban instant

	now   func() time.Time
	onBan func(ip string)
}

// Config holds rate limiter parameters.
type Config struct {
	MaxRequestsPerMinute int
	BanDuration          time.Duration

	// OnBan, if set, is invoked (under no lock) whenever a ban is installed.
	OnBan func(ip string)
}

// NewLimiter creates a rate limiter and starts its janitor goroutine.
func NewLimiter(cfg Config) *Limiter {
	buckets, _ := lru.New[string, *clientBucket](maxTrackedClients)
	l := &Limiter{
		maxRequests: cfg.MaxRequestsPerMinute,
		banDuration: cfg.BanDuration,
		buckets:     buckets,
		banned:      make(map[string]time.Time),
		now:         time.Now,
		onBan:       cfg.OnBan,
	}

	go l.cleanup()

	return l
}

// Allow reports whether a request from ip is admitted. It returns
// errors.ErrRateLimited while the IP is banned or when this request
// fills the window (which also installs a ban).
func (l *Limiter) Allow(ip string) error {
	var banInstalled bool

	l.mu.Lock()
	now := l.now()

	if unbanAt, ok := l.banned[ip]; ok {
		if now.Before(unbanAt) {
			l.mu.Unlock()
			return errors.ErrRateLimited
		}
		delete(l.banned, ip)
	}

	b, ok := l.buckets.Get(ip)
	if !ok {
		b = &clientBucket{}
		l.buckets.Add(ip, b)
	}
	b.prune(now)

	if len(b.stamps) >= l.maxRequests {
		l.banned[ip] = now.Add(l.banDuration)
		banInstalled = true
	} else {
		b.stamps = append(b.stamps, now)
	}
	l.mu.Unlock()

	if banInstalled {
		if l.onBan != nil {
			l.onBan(ip)
		}
		return errors.ErrRateLimited
	}
	return nil
}

// Banned reports whether ip currently has an active ban.
func (l *Limiter) Banned(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	unbanAt, ok := l.banned[ip]
	return ok && l.now().Before(unbanAt)
}

// prune drops timestamps older than the rolling window.
func (b *clientBucket) prune(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(b.stamps) && !b.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.stamps = append(b.stamps[:0], b.stamps[i:]...)
	}
}

// cleanup removes expired bans and idle buckets periodically. Bans are
// also removed lazily in Allow; this keeps the ban map bounded for IPs
// that never return.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		l.mu.Lock()
		now := l.now()
		for ip, unbanAt := range l.banned {
			if !now.Before(unbanAt) {
				delete(l.banned, ip)
			}
		}
		for _, ip := range l.buckets.Keys() {
			if b, ok := l.buckets.Peek(ip); ok {
				b.prune(now)
				if len(b.stamps) == 0 {
					l.buckets.Remove(ip)
				}
			}
		}
		l.mu.Unlock()
	}
}
