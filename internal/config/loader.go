package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Loader handles configuration loading and parsing.
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes. Unknown keys are ignored;
// missing sections keep their feature disabled.
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values.
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate checks the configuration for errors that must be fatal at
// startup: unparseable IPs, unknown strategies, malformed WAF patterns,
// and redirect rules that map nothing.
func (l *Loader) validate(cfg *Config) error {
	if cfg.General.ListenPort < 1 || cfg.General.ListenPort > 65535 {
		return fmt.Errorf("general: invalid listen_port %d", cfg.General.ListenPort)
	}

	for _, ip := range cfg.AccessControl.AllowedIPs {
		if net.ParseIP(ip) == nil {
			return fmt.Errorf("access_control: invalid allowed IP %q", ip)
		}
	}
	for _, ip := range cfg.AccessControl.BlockedIPs {
		if net.ParseIP(ip) == nil {
			return fmt.Errorf("access_control: invalid blocked IP %q", ip)
		}
	}

	if cfg.Redirection.Enabled {
		for i, rule := range cfg.Redirection.Rules {
			if rule.Action != "redirect" {
				return fmt.Errorf("redirection: rule %d (%s): unsupported action %q", i, rule.Name, rule.Action)
			}
			if rule.HasPortMapping() {
				if rule.DestinationPort < 1 || rule.DestinationPort > 65535 {
					return fmt.Errorf("redirection: rule %d (%s): invalid destination_port %d", i, rule.Name, rule.DestinationPort)
				}
				continue
			}
			if !rule.HasPathMapping() {
				return fmt.Errorf("redirection: rule %d (%s): needs source_port or source_path", i, rule.Name)
			}
			if strings.TrimSuffix(rule.SourcePath, "*") == "" {
				return fmt.Errorf("redirection: rule %d (%s): source_path matches everything", i, rule.Name)
			}
		}
	}

	if cfg.LoadBalancing.Enabled {
		switch cfg.LoadBalancing.Strategy {
		case StrategyRoundRobin, StrategyRandom, StrategyLeastConnections:
		case "":
			cfg.LoadBalancing.Strategy = StrategyRoundRobin
		default:
			return fmt.Errorf("load_balancing: unsupported strategy %q", cfg.LoadBalancing.Strategy)
		}
		if len(cfg.LoadBalancing.Servers) == 0 {
			return fmt.Errorf("load_balancing: enabled with no servers")
		}
		for i, s := range cfg.LoadBalancing.Servers {
			if s.Address == "" {
				return fmt.Errorf("load_balancing: server %d: empty address", i)
			}
			if s.Port < 1 || s.Port > 65535 {
				return fmt.Errorf("load_balancing: server %d (%s): invalid port %d", i, s.Address, s.Port)
			}
		}
	}

	if cfg.Security.RateLimiting.Enabled {
		if cfg.Security.RateLimiting.MaxRequestsPerMinute < 1 {
			return fmt.Errorf("rate_limiting: max_requests_per_minute must be positive")
		}
		if cfg.Security.RateLimiting.BanDuration < 1 {
			return fmt.Errorf("rate_limiting: ban_duration must be positive")
		}
	}

	if cfg.Security.WAF.Enabled {
		for i, rule := range cfg.Security.WAF.Rules {
			if rule.Pattern == "" {
				return fmt.Errorf("waf: rule %d (%s): empty pattern", i, rule.Name)
			}
			if _, err := regexp.Compile("(?i)" + rule.Pattern); err != nil {
				return fmt.Errorf("waf: rule %d (%s): bad pattern: %w", i, rule.Name, err)
			}
		}
	}

	if cfg.Security.SessionManagement.Enabled && cfg.Security.SessionManagement.SessionTimeout < 1 {
		return fmt.Errorf("session_management: session_timeout must be positive")
	}

	return nil
}
