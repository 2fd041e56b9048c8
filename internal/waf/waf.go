package waf

import (
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/adi3g/guardian/internal/config"
	"github.com/adi3g/guardian/internal/errors"
)

// rule is a compiled inspection pattern.
type rule struct {
	name string
	re   *regexp.Regexp
}

// WAF inspects request content against an ordered list of regex rules.
// Patterns are matched case-insensitively; the first match blocks.
type WAF struct {
	enabled bool
	rules   []rule

	requestsTotal atomic.Int64
	blockedTotal  atomic.Int64
}

// New creates a WAF from config. All patterns are compiled up front;
// a malformed pattern is a construction error, never a per-request one.
// A disabled WAF compiles nothing and passes everything.
func New(cfg config.WAFConfig) (*WAF, error) {
	w := &WAF{enabled: cfg.Enabled}
	if !cfg.Enabled {
		return w, nil
	}

	for _, rc := range cfg.Rules {
		re, err := regexp.Compile("(?i)" + rc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("waf rule %q: %w", rc.Name, err)
		}
		w.rules = append(w.rules, rule{name: rc.Name, re: re})
	}

	return w, nil
}

// Inspect checks content against the rules in declaration order.
// It returns errors.WAFBlocked naming the first matching rule, or nil.
// When the WAF is disabled every inspection passes.
func (w *WAF) Inspect(content string) error {
	if !w.enabled {
		return nil
	}

	w.requestsTotal.Add(1)
	for _, r := range w.rules {
		if r.re.MatchString(content) {
			w.blockedTotal.Add(1)
			return errors.WAFBlocked(r.name)
		}
	}
	return nil
}

// IsEnabled returns whether inspection is active.
func (w *WAF) IsEnabled() bool {
	return w.enabled
}

// Stats returns an inspection counter snapshot.
func (w *WAF) Stats() map[string]int64 {
	return map[string]int64{
		"requests_total": w.requestsTotal.Load(),
		"blocked_total":  w.blockedTotal.Load(),
	}
}
