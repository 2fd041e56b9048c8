package ratelimit

import (
	"testing"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adi3g/guardian/internal/errors"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// newTestLimiter builds a limiter with a controllable clock and no
// janitor goroutine.
func newTestLimiter(maxRequests int, banDuration time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	buckets, _ := lru.New[string, *clientBucket](maxTrackedClients)
	l := &Limiter{
		maxRequests: maxRequests,
		banDuration: banDuration,
		buckets:     buckets,
		banned:      make(map[string]time.Time),
		now:         clock.now,
	}
	return l, clock
}

func TestAllowUnderLimit(t *testing.T) {
	l, clock := newTestLimiter(5, 5*time.Minute)

	for i := 0; i < 5; i++ {
		if err := l.Allow("1.2.3.4"); err != nil {
			t.Fatalf("request %d: unexpected denial: %v", i+1, err)
		}
		clock.advance(time.Second)
	}
}

func TestLimitInstallsBan(t *testing.T) {
	l, clock := newTestLimiter(5, 5*time.Minute)

	for i := 0; i < 5; i++ {
		if err := l.Allow("1.2.3.4"); err != nil {
			t.Fatalf("request %d: unexpected denial: %v", i+1, err)
		}
	}

	// Sixth request within the window hits the inclusive threshold.
	if err := l.Allow("1.2.3.4"); err != errors.ErrRateLimited {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if !l.Banned("1.2.3.4") {
		t.Error("expected an active ban")
	}

	// Any further call within the ban also fails, even after the window
	// itself would have drained.
	clock.advance(2 * time.Minute)
	if err := l.Allow("1.2.3.4"); err != errors.ErrRateLimited {
		t.Fatalf("expected ErrRateLimited during ban, got %v", err)
	}
}

func TestBanExpires(t *testing.T) {
	l, clock := newTestLimiter(2, 5*time.Minute)

	l.Allow("1.2.3.4")
	l.Allow("1.2.3.4")
	if err := l.Allow("1.2.3.4"); err != errors.ErrRateLimited {
		t.Fatalf("expected ban, got %v", err)
	}

	clock.advance(5*time.Minute + time.Second)
	if l.Banned("1.2.3.4") {
		t.Error("ban should have expired")
	}
	if err := l.Allow("1.2.3.4"); err != nil {
		t.Fatalf("expected request after ban expiry to pass, got %v", err)
	}
}

func TestWindowSlides(t *testing.T) {
	l, clock := newTestLimiter(3, 5*time.Minute)

	l.Allow("1.2.3.4")
	l.Allow("1.2.3.4")
	l.Allow("1.2.3.4")

	// Once the first requests age out of the 60 s window, new requests
	// are admitted again without a ban ever having been installed.
	clock.advance(61 * time.Second)
	if err := l.Allow("1.2.3.4"); err != nil {
		t.Fatalf("expected request after window slide to pass, got %v", err)
	}
	if l.Banned("1.2.3.4") {
		t.Error("no ban should exist")
	}
}

func TestClientsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, 5*time.Minute)

	if err := l.Allow("1.1.1.1"); err != nil {
		t.Fatalf("first client: %v", err)
	}
	if err := l.Allow("2.2.2.2"); err != nil {
		t.Fatalf("second client should have its own bucket: %v", err)
	}
	if err := l.Allow("1.1.1.1"); err != errors.ErrRateLimited {
		t.Fatalf("first client should be limited, got %v", err)
	}
	if l.Banned("2.2.2.2") {
		t.Error("second client must not inherit the ban")
	}
}

func TestOnBanCallback(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)
	var banned []string
	l.onBan = func(ip string) { banned = append(banned, ip) }

	l.Allow("9.9.9.9")
	l.Allow("9.9.9.9")
	l.Allow("9.9.9.9") // already banned: callback must not fire again

	if len(banned) != 1 || banned[0] != "9.9.9.9" {
		t.Errorf("expected one ban callback for 9.9.9.9, got %v", banned)
	}
}

func TestPrune(t *testing.T) {
	b := &clientBucket{}
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		b.stamps = append(b.stamps, base.Add(time.Duration(i)*20*time.Second))
	}

	b.prune(base.Add(80 * time.Second))
	if len(b.stamps) != 2 {
		t.Fatalf("expected 2 stamps inside the window, got %d", len(b.stamps))
	}
	if !b.stamps[0].Equal(base.Add(40 * time.Second)) {
		t.Errorf("unexpected oldest stamp: %v", b.stamps[0])
	}
}
