package loadbalancer

import (
	"testing"
	"time"

	"github.com/adi3g/guardian/internal/config"
)

func lbConfig(strategy string) config.LoadBalancingConfig {
	return config.LoadBalancingConfig{
		Enabled:        true,
		Strategy:       strategy,
		HealthChecking: true,
		Servers: []config.ServerConfig{
			{Address: "10.0.0.1", Port: 8081},
			{Address: "10.0.0.2", Port: 8082},
		},
	}
}

func TestNewByStrategy(t *testing.T) {
	strategies := []string{
		config.StrategyRoundRobin,
		config.StrategyRandom,
		config.StrategyLeastConnections,
		"",
	}

	for _, strategy := range strategies {
		b, err := New(lbConfig(strategy))
		if err != nil {
			t.Fatalf("New(%q): %v", strategy, err)
		}
		switch strategy {
		case config.StrategyRandom:
			if _, ok := b.(*Random); !ok {
				t.Errorf("strategy %q: got %T", strategy, b)
			}
		case config.StrategyLeastConnections:
			if _, ok := b.(*LeastConnections); !ok {
				t.Errorf("strategy %q: got %T", strategy, b)
			}
		default:
			if _, ok := b.(*RoundRobin); !ok {
				t.Errorf("strategy %q: got %T", strategy, b)
			}
		}
	}
}

func TestNewUnknownStrategy(t *testing.T) {
	cfg := lbConfig("weighted")
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestMarkFailedNoopWithoutHealthChecking(t *testing.T) {
	rr := &RoundRobin{basePool: newBasePool(testServers(), false)}
	rr.MarkFailed(testServers()[0])

	u, err := rr.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if u.Address != "10.0.0.1" {
		t.Errorf("MarkFailed must be a no-op without health checking, got %s", u.Address)
	}
}

func TestFailedServerExcludedUntilCooldown(t *testing.T) {
	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	rr := &RoundRobin{basePool: newBasePool(testServers(), true)}
	rr.now = func() time.Time { return clock }

	failed := testServers()[0]
	rr.MarkFailed(failed)

	// Just inside the cooldown: still excluded.
	clock = clock.Add(59 * time.Second)
	for i := 0; i < 6; i++ {
		u, err := rr.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if u.Address == failed.Address {
			t.Fatal("failed server returned before cooldown elapsed")
		}
	}

	// Past the cooldown: re-admitted optimistically.
	clock = clock.Add(2 * time.Second)
	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		u, _ := rr.Next()
		seen[u.Address] = true
	}
	if !seen[failed.Address] {
		t.Error("failed server should be re-admitted after cooldown")
	}
}

func TestSnapshot(t *testing.T) {
	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	lc := &LeastConnections{basePool: newBasePool(testServers(), true)}
	lc.now = func() time.Time { return clock }

	lc.Acquire(testServers()[1])
	lc.MarkFailed(testServers()[2])

	snap := lc.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot length = %d", len(snap))
	}
	if !snap[0].Healthy || snap[0].ActiveConnections != 0 {
		t.Errorf("server 0: %+v", snap[0])
	}
	if snap[1].ActiveConnections != 1 {
		t.Errorf("server 1 connections = %d", snap[1].ActiveConnections)
	}
	if snap[2].Healthy {
		t.Error("server 2 should be unhealthy")
	}
}

func TestHostPort(t *testing.T) {
	u := Upstream{Address: "10.0.0.1", Port: 8081}
	if got := u.HostPort(); got != "10.0.0.1:8081" {
		t.Errorf("HostPort = %q", got)
	}
}
