package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAuthority(); err != nil {
		return err
	}
	if err := c.validateReconcile(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

// ValidateAuthorityEndpoint reports whether commands that query the authority
// can run with this configuration.
func (c *Config) ValidateAuthorityEndpoint() error {
	if c.Authority.BaseURL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/reconcile/config.toml"
		}
		return fmt.Errorf("authority.base_url is required. Edit %s (create with 'reconcile config init')", defaultPath)
	}
	return nil
}

func (c *Config) validateAuthority() error {
	if c.Authority.BaseURL != "" {
		parsed, err := url.Parse(c.Authority.BaseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("authority.base_url must be an absolute URL, got %q", c.Authority.BaseURL)
		}
	}
	if err := ensurePositiveMap(map[string]int{
		"authority.timeout_seconds":          c.Authority.TimeoutSeconds,
		"authority.burst":                    c.Authority.Burst,
		"authority.breaker_failures":         c.Authority.BreakerFailures,
		"authority.breaker_cooldown_seconds": c.Authority.BreakerCooldownSeconds,
	}); err != nil {
		return err
	}
	if c.Authority.RequestsPerSecond <= 0 {
		return errors.New("authority.requests_per_second must be positive")
	}
	return nil
}

func (c *Config) validateReconcile() error {
	r := c.Reconcile
	if r.AutoAcceptThreshold < 0 || r.AutoAcceptThreshold > 1 {
		return errors.New("reconcile.auto_accept_threshold must be between 0 and 1")
	}
	if r.ReviewThreshold < 0 || r.ReviewThreshold > 1 {
		return errors.New("reconcile.review_threshold must be between 0 and 1")
	}
	if r.ReviewThreshold > r.AutoAcceptThreshold {
		return errors.New("reconcile.review_threshold must not exceed reconcile.auto_accept_threshold")
	}
	if r.Concurrency < 1 {
		return errors.New("reconcile.concurrency must be at least 1")
	}
	if r.SearchMinLength < MinSearchLength {
		return fmt.Errorf("reconcile.search_min_length must be at least %d", MinSearchLength)
	}
	if r.SearchDebounceMillis < 0 {
		return errors.New("reconcile.search_debounce_ms must not be negative")
	}
	switch r.TieBreak {
	case TieBreakNone, TieBreakName:
	default:
		return fmt.Errorf("reconcile.tie_break must be %q or %q, got %q", TieBreakNone, TieBreakName, r.TieBreak)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", strings.TrimSpace(key))
		}
	}
	return nil
}
