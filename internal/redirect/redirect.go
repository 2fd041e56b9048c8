package redirect

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/adi3g/guardian/internal/config"
)

// Redirector evaluates ordered redirection rules against the request
// path and port. The first matching rule wins.
type Redirector struct {
	enabled    bool
	listenAddr string
	rules      []config.RedirectRule
}

// New creates a redirector. listenAddress is used as the host of
// port-based redirect targets.
func New(cfg config.RedirectionConfig, listenAddress string) *Redirector {
	return &Redirector{
		enabled:    cfg.Enabled,
		listenAddr: listenAddress,
		rules:      cfg.Rules,
	}
}

// Redirect returns the target URL for a request, or ok=false when no
// rule matches or redirection is disabled.
//
// A port rule produces https://{listen_address}:{destination_port}{path}.
// A path rule replaces the first occurrence of the stripped source
// pattern inside path with the destination path. A non-empty query is
// appended URL-encoded in both cases.
func (rd *Redirector) Redirect(path string, port int, query url.Values) (string, bool) {
	if !rd.enabled {
		return "", false
	}

	for _, rule := range rd.rules {
		if rule.Action != "redirect" {
			continue
		}

		if rule.HasPortMapping() && port == rule.SourcePort {
			target := fmt.Sprintf("https://%s:%d%s", rd.listenAddr, rule.DestinationPort, path)
			return appendQuery(target, query), true
		}

		if rule.HasPathMapping() {
			source := stripTrailingStar(rule.SourcePath)
			if source != "" && path != "" && strings.Contains(path, source) {
				target := strings.Replace(path, source, rule.DestinationPath, 1)
				return appendQuery(target, query), true
			}
		}
	}

	return "", false
}

// IsEnabled returns whether redirection is active.
func (rd *Redirector) IsEnabled() bool {
	return rd.enabled
}

// stripTrailingStar removes a single terminal "*" from a source pattern.
func stripTrailingStar(s string) string {
	return strings.TrimSuffix(s, "*")
}

func appendQuery(target string, query url.Values) string {
	if len(query) == 0 {
		return target
	}
	return target + "?" + query.Encode()
}
