package gateway

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/adi3g/guardian/internal/auth"
	"github.com/adi3g/guardian/internal/config"
	"github.com/adi3g/guardian/internal/errors"
	"github.com/adi3g/guardian/internal/loadbalancer"
	"github.com/adi3g/guardian/internal/logging"
	"github.com/adi3g/guardian/internal/metrics"
	"github.com/adi3g/guardian/internal/proxy"
	"github.com/adi3g/guardian/internal/ratelimit"
	"github.com/adi3g/guardian/internal/redirect"
	"github.com/adi3g/guardian/internal/session"
	"github.com/adi3g/guardian/internal/waf"
)

// Request is the pipeline's view of an inbound request.
type Request struct {
	Method  string
	IP      string
	Path    string
	Port    int
	Query   url.Values
	Headers http.Header
	Body    []byte
}

// App owns every policy engine and runs the per-request admission
// pipeline: rate limit, IP access control, WAF, redirection, load
// balancing, forwarding.
type App struct {
	cfg *config.Config

	limiter    *ratelimit.Limiter // nil when rate limiting is disabled
	inspector  *waf.WAF
	redirector *redirect.Redirector
	balancer   loadbalancer.Balancer // nil when load balancing is disabled
	sessions   *session.Manager      // nil when session management is disabled
	tokens     *auth.Service
	forwarder  *proxy.Forwarder
	collector  *metrics.Collector

	allowed map[string]struct{}
	blocked map[string]struct{}
}

// NewApp builds an App from a loaded configuration. The rate limiter,
// balancer, and session manager stay nil when their section is disabled:
// a nil limiter admits every request, a nil balancer makes Admit deny
// with ErrLBDisabled, and a nil session manager makes the session
// endpoints answer ErrSessionsDisabled. The WAF and redirector are always
// built and pass every request when disabled.
func NewApp(cfg *config.Config) (*App, error) {
	a := &App{
		cfg:       cfg,
		tokens:    auth.NewServiceFromEnv(),
		forwarder: proxy.NewForwarder(proxy.Config{}),
		collector: metrics.NewCollector(),
		allowed:   make(map[string]struct{}, len(cfg.AccessControl.AllowedIPs)),
		blocked:   make(map[string]struct{}, len(cfg.AccessControl.BlockedIPs)),
	}

	for _, ip := range cfg.AccessControl.AllowedIPs {
		a.allowed[ip] = struct{}{}
	}
	for _, ip := range cfg.AccessControl.BlockedIPs {
		a.blocked[ip] = struct{}{}
	}

	if rl := cfg.Security.RateLimiting; rl.Enabled {
		a.limiter = ratelimit.NewLimiter(ratelimit.Config{
			MaxRequestsPerMinute: rl.MaxRequestsPerMinute,
			BanDuration:          time.Duration(rl.BanDuration) * time.Second,
			OnBan: func(ip string) {
				a.collector.RecordBan()
				logging.Warn("rate limit ban installed", zap.String("client_ip", ip))
			},
		})
	}

	inspector, err := waf.New(cfg.Security.WAF)
	if err != nil {
		return nil, fmt.Errorf("waf: %w", err)
	}
	a.inspector = inspector

	a.redirector = redirect.New(cfg.Redirection, cfg.General.ListenAddress)

	if cfg.LoadBalancing.Enabled {
		balancer, err := loadbalancer.New(cfg.LoadBalancing)
		if err != nil {
			return nil, fmt.Errorf("load balancer: %w", err)
		}
		a.balancer = balancer
		for _, st := range balancer.Snapshot() {
			a.collector.SetUpstreamHealth(st.Upstream.Address, st.Healthy)
		}
	}

	if sm := cfg.Security.SessionManagement; sm.Enabled {
		a.sessions = session.NewManager(time.Duration(sm.SessionTimeout) * time.Second)
	}

	return a, nil
}

// Start logs the startup banner.
func (a *App) Start() {
	logging.Info("starting gateway",
		zap.String("name", a.cfg.General.GatewayName),
		zap.String("version", a.cfg.General.Version),
	)
	logging.Info("listening",
		zap.String("address", a.cfg.General.ListenAddress),
		zap.Int("port", a.cfg.General.ListenPort),
	)
}

// CheckAccess evaluates rate limiting and the IP allow/block lists for
// a client IP. It returns nil when access is granted. Rate limiting
// runs first so ban state accrues even for requests that would have
// failed access control; the block check precedes the allow check so an
// IP on both lists is blocked.
func (a *App) CheckAccess(clientIP string) *errors.GatewayError {
	if a.limiter != nil {
		if err := a.limiter.Allow(clientIP); err != nil {
			logging.Warn("rate limit exceeded", zap.String("client_ip", clientIP))
			return errors.ErrRateLimited
		}
	}

	if _, ok := a.blocked[clientIP]; ok {
		logging.Warn("access denied for blocked IP", zap.String("client_ip", clientIP))
		return errors.ErrIPBlocked
	}

	if len(a.allowed) > 0 {
		if _, ok := a.allowed[clientIP]; !ok {
			logging.Warn("access denied for IP not in allowed list", zap.String("client_ip", clientIP))
			return errors.ErrIPNotAllowed
		}
	}

	return nil
}

// Admit runs the full admission pipeline for a request and returns the
// outcome. The step order is normative; the pipeline short-circuits on
// the first denial.
func (a *App) Admit(req *Request) Outcome {
	if a.limiter != nil {
		if err := a.limiter.Allow(req.IP); err != nil {
			logging.Warn("rate limit exceeded", zap.String("client_ip", req.IP))
			return Deny{Err: errors.ErrRateLimited, Reason: "rate_limited"}
		}
	}

	if _, ok := a.blocked[req.IP]; ok {
		logging.Warn("access denied for blocked IP", zap.String("client_ip", req.IP))
		return Deny{Err: errors.ErrIPBlocked, Reason: "ip_blocked"}
	}
	if len(a.allowed) > 0 {
		if _, ok := a.allowed[req.IP]; !ok {
			logging.Warn("access denied for IP not in allowed list", zap.String("client_ip", req.IP))
			return Deny{Err: errors.ErrIPNotAllowed, Reason: "ip_not_allowed"}
		}
	}

	if err := a.inspector.Inspect(composeContent(req)); err != nil {
		ge, _ := errors.IsGatewayError(err)
		logging.Warn("request blocked by WAF",
			zap.String("client_ip", req.IP),
			zap.String("path", req.Path),
			zap.String("detail", ge.Detail),
		)
		return Deny{Err: ge, Reason: "waf"}
	}

	if target, ok := a.redirector.Redirect(req.Path, req.Port, req.Query); ok {
		logging.Info("redirecting request",
			zap.String("path", req.Path),
			zap.String("target", target),
		)
		return Redirect{URL: target}
	}

	if a.balancer == nil {
		logging.Error("load balancing is disabled or misconfigured")
		return Deny{Err: errors.ErrLBDisabled, Reason: "lb_disabled"}
	}
	upstream, err := a.balancer.Next()
	if err != nil {
		logging.Error("no healthy upstream available")
		return Deny{Err: errors.ErrNoHealthyUpstream, Reason: "no_upstream"}
	}

	logging.Debug("routing to upstream",
		zap.String("address", upstream.Address),
		zap.Int("port", upstream.Port),
	)
	return Forward{Upstream: upstream}
}

// composeContent assembles the WAF inspection string as
// path + headers + body + query, with headers in sorted key order and
// the query form-encoded, so regex semantics are stable across requests.
func composeContent(req *Request) string {
	var sb strings.Builder
	sb.WriteString(req.Path)
	sb.WriteByte(' ')

	keys := make([]string, 0, len(req.Headers))
	for k := range req.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(strings.Join(req.Headers[k], ","))
		sb.WriteByte(' ')
	}

	sb.Write(req.Body)
	sb.WriteByte(' ')
	sb.WriteString(req.Query.Encode())

	return sb.String()
}
