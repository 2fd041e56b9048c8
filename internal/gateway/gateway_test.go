package gateway

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/adi3g/guardian/internal/config"
	"github.com/adi3g/guardian/internal/errors"
)

func baseConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.General.GatewayName = "Guardian"
	cfg.General.ListenAddress = "0.0.0.0"
	cfg.General.ListenPort = 8080
	return cfg
}

func pipelineRequest(ip, path string) *Request {
	return &Request{
		Method:  http.MethodGet,
		IP:      ip,
		Path:    path,
		Port:    8080,
		Query:   url.Values{},
		Headers: http.Header{},
	}
}

func TestAdmitBlockedIP(t *testing.T) {
	cfg := baseConfig()
	cfg.AccessControl.BlockedIPs = []string{"192.168.1.100"}
	app, err := NewApp(cfg)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}

	outcome := app.Admit(pipelineRequest("192.168.1.100", "/foo"))
	deny, ok := outcome.(Deny)
	if !ok {
		t.Fatalf("expected Deny, got %T", outcome)
	}
	if deny.Err != errors.ErrIPBlocked {
		t.Errorf("err = %v", deny.Err)
	}
}

func TestAdmitAllowListExcludesOthers(t *testing.T) {
	cfg := baseConfig()
	cfg.AccessControl.AllowedIPs = []string{"192.168.1.10"}
	app, _ := NewApp(cfg)

	outcome := app.Admit(pipelineRequest("10.9.9.9", "/foo"))
	deny, ok := outcome.(Deny)
	if !ok || deny.Err != errors.ErrIPNotAllowed {
		t.Fatalf("expected IPNotAllowed, got %#v", outcome)
	}
}

func TestAdmitBlockedWinsOverAllowed(t *testing.T) {
	cfg := baseConfig()
	cfg.AccessControl.AllowedIPs = []string{"192.168.1.10"}
	cfg.AccessControl.BlockedIPs = []string{"192.168.1.10"}
	app, _ := NewApp(cfg)

	outcome := app.Admit(pipelineRequest("192.168.1.10", "/foo"))
	deny, ok := outcome.(Deny)
	if !ok || deny.Err != errors.ErrIPBlocked {
		t.Fatalf("an IP on both lists must be blocked, got %#v", outcome)
	}
}

func TestAdmitRateLimitPrecedesAccessControl(t *testing.T) {
	cfg := baseConfig()
	cfg.AccessControl.BlockedIPs = []string{"192.168.1.100"}
	cfg.Security.RateLimiting = config.RateLimitConfig{
		Enabled:              true,
		MaxRequestsPerMinute: 1,
		BanDuration:          300,
	}
	app, _ := NewApp(cfg)

	// First request passes the limiter, then fails the block list.
	outcome := app.Admit(pipelineRequest("192.168.1.100", "/foo"))
	if deny, ok := outcome.(Deny); !ok || deny.Err != errors.ErrIPBlocked {
		t.Fatalf("first request: expected IPBlocked, got %#v", outcome)
	}

	// Ban state accrued even though access control denied the request,
	// so the second request is rate limited before the block check.
	outcome = app.Admit(pipelineRequest("192.168.1.100", "/foo"))
	if deny, ok := outcome.(Deny); !ok || deny.Err != errors.ErrRateLimited {
		t.Fatalf("second request: expected RateLimited, got %#v", outcome)
	}
}

func TestAdmitWAFBlocks(t *testing.T) {
	cfg := baseConfig()
	cfg.Security.WAF = config.WAFConfig{
		Enabled: true,
		Rules: []config.WAFRule{
			{Name: "Block SQL Injection", Pattern: "SELECT|UPDATE|DELETE|INSERT|DROP|ALTER", Action: "block"},
		},
	}
	app, _ := NewApp(cfg)

	req := pipelineRequest("10.0.0.5", "/data")
	req.Body = []byte("SELECT * FROM users")
	outcome := app.Admit(req)

	deny, ok := outcome.(Deny)
	if !ok {
		t.Fatalf("expected Deny, got %T", outcome)
	}
	if !strings.Contains(deny.Err.Detail, "Blocked by WAF rule: Block SQL Injection") {
		t.Errorf("detail = %q", deny.Err.Detail)
	}
}

func TestAdmitRedirectShortCircuits(t *testing.T) {
	cfg := baseConfig()
	cfg.Redirection = config.RedirectionConfig{
		Enabled: true,
		Rules: []config.RedirectRule{
			{Name: "https", Action: "redirect", SourcePort: 80, DestinationPort: 443},
		},
	}
	// No load balancer configured: a matching redirect must win before
	// the pipeline ever consults it.
	app, _ := NewApp(cfg)

	req := pipelineRequest("10.0.0.5", "/path")
	req.Port = 80
	outcome := app.Admit(req)

	redir, ok := outcome.(Redirect)
	if !ok {
		t.Fatalf("expected Redirect, got %#v", outcome)
	}
	if redir.URL != "https://0.0.0.0:443/path" {
		t.Errorf("url = %q", redir.URL)
	}
}

func TestAdmitLBDisabled(t *testing.T) {
	app, _ := NewApp(baseConfig())

	outcome := app.Admit(pipelineRequest("10.0.0.5", "/foo"))
	deny, ok := outcome.(Deny)
	if !ok || deny.Err != errors.ErrLBDisabled {
		t.Fatalf("expected LBDisabled, got %#v", outcome)
	}
}

func TestAdmitForwards(t *testing.T) {
	cfg := baseConfig()
	cfg.LoadBalancing = config.LoadBalancingConfig{
		Enabled:  true,
		Strategy: config.StrategyRoundRobin,
		Servers: []config.ServerConfig{
			{Address: "10.0.0.1", Port: 8081},
			{Address: "10.0.0.2", Port: 8081},
		},
	}
	app, _ := NewApp(cfg)

	// Round robin over two upstreams in declaration order.
	for i, want := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.1"} {
		outcome := app.Admit(pipelineRequest("10.0.0.5", "/foo"))
		fwd, ok := outcome.(Forward)
		if !ok {
			t.Fatalf("call %d: expected Forward, got %#v", i, outcome)
		}
		if fwd.Upstream.Address != want {
			t.Errorf("call %d: upstream = %s, want %s", i, fwd.Upstream.Address, want)
		}
	}
}

func TestCheckAccessGranted(t *testing.T) {
	cfg := baseConfig()
	cfg.AccessControl.AllowedIPs = []string{"192.168.1.10"}
	app, _ := NewApp(cfg)

	if ge := app.CheckAccess("192.168.1.10"); ge != nil {
		t.Errorf("expected access granted, got %v", ge)
	}
	if ge := app.CheckAccess("10.1.1.1"); ge != errors.ErrIPNotAllowed {
		t.Errorf("expected IPNotAllowed, got %v", ge)
	}
}

func TestComposeContentStable(t *testing.T) {
	req := &Request{
		Path: "/a",
		Headers: http.Header{
			"B-Header": {"2"},
			"A-Header": {"1"},
		},
		Body:  []byte("body"),
		Query: url.Values{"z": {"26"}, "a": {"1"}},
	}

	first := composeContent(req)
	for i := 0; i < 10; i++ {
		if composeContent(req) != first {
			t.Fatal("content composition must be deterministic")
		}
	}
	for _, part := range []string{"/a", "A-Header: 1", "B-Header: 2", "body", "a=1&z=26"} {
		if !strings.Contains(first, part) {
			t.Errorf("content %q missing %q", first, part)
		}
	}
}
