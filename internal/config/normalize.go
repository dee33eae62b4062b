package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAuthority()
	c.normalizeReconcile()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	origins := c.Paths.CORSOrigins[:0]
	for _, origin := range c.Paths.CORSOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	c.Paths.CORSOrigins = origins
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("RECONCILE_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeAuthority() {
	if c.Authority.APIKey == "" {
		if value, ok := os.LookupEnv("RECONCILE_AUTHORITY_API_KEY"); ok {
			c.Authority.APIKey = strings.TrimSpace(value)
		}
	}
	c.Authority.BaseURL = strings.TrimRight(strings.TrimSpace(c.Authority.BaseURL), "/")
	if c.Authority.MaxCandidates <= 0 {
		c.Authority.MaxCandidates = defaultMaxCandidates
	}
}

func (c *Config) normalizeReconcile() {
	c.Reconcile.TieBreak = strings.ToLower(strings.TrimSpace(c.Reconcile.TieBreak))
	if c.Reconcile.TieBreak == "" {
		c.Reconcile.TieBreak = defaultTieBreak
	}
	c.Reconcile.DefaultUnmatchedNote = strings.TrimSpace(c.Reconcile.DefaultUnmatchedNote)
	if c.Reconcile.DefaultUnmatchedNote == "" {
		c.Reconcile.DefaultUnmatchedNote = defaultUnmatchedNote
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
