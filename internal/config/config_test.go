package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"reconcile/internal/config"
)

func TestLoadDefaultConfigUsesEnvAndExpandsPaths(t *testing.T) {
	t.Setenv("RECONCILE_AUTHORITY_API_KEY", "env-key")
	t.Setenv("RECONCILE_API_TOKEN", "env-token")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	chdirForTest(t, t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "reconcile")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7590" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Authority.APIKey != "env-key" {
		t.Fatalf("expected authority key from env, got %q", cfg.Authority.APIKey)
	}
	if cfg.Paths.APIToken != "env-token" {
		t.Fatalf("expected api token from env, got %q", cfg.Paths.APIToken)
	}
	if cfg.Reconcile.AutoAcceptThreshold != 0.95 || cfg.Reconcile.ReviewThreshold != 0.70 {
		t.Fatalf("unexpected default thresholds: %+v", cfg.Reconcile)
	}
	if cfg.Reconcile.SearchMinLength != config.MinSearchLength {
		t.Fatalf("unexpected search min length: %d", cfg.Reconcile.SearchMinLength)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "reconcile.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q to exist", dir)
		}
	}
}

func TestLoadCustomConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")
	payload := map[string]any{
		"paths": map[string]any{
			"data_dir": filepath.Join(dir, "data"),
			"api_bind": ":9000",
		},
		"authority": map[string]any{
			"base_url": "https://authority.example.org/api/",
		},
		"reconcile": map[string]any{
			"auto_accept_threshold": 0.9,
			"review_threshold":      0.5,
			"tie_break":             " NAME ",
		},
		"logging": map[string]any{
			"format": "JSON",
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected custom config to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Authority.BaseURL != "https://authority.example.org/api" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Authority.BaseURL)
	}
	if cfg.Reconcile.TieBreak != config.TieBreakName {
		t.Fatalf("expected tie break normalized, got %q", cfg.Reconcile.TieBreak)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected log format normalized, got %q", cfg.Logging.Format)
	}
	if got := cfg.APIBaseURL(); got != "http://127.0.0.1:9000" {
		t.Fatalf("unexpected api base url: %q", got)
	}
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	cfg := config.Default()
	cfg.Reconcile.AutoAcceptThreshold = 0.6
	cfg.Reconcile.ReviewThreshold = 0.8
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for review above auto accept")
	}
	if !strings.Contains(err.Error(), "reconcile.review_threshold") {
		t.Fatalf("expected field name in error, got %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"threshold range", func(c *config.Config) { c.Reconcile.AutoAcceptThreshold = 1.5 }, "auto_accept_threshold"},
		{"concurrency", func(c *config.Config) { c.Reconcile.Concurrency = 0 }, "concurrency"},
		{"search floor", func(c *config.Config) { c.Reconcile.SearchMinLength = 1 }, "search_min_length"},
		{"tie break", func(c *config.Config) { c.Reconcile.TieBreak = "random" }, "tie_break"},
		{"base url", func(c *config.Config) { c.Authority.BaseURL = "not a url" }, "base_url"},
		{"burst", func(c *config.Config) { c.Authority.Burst = 0 }, "authority.burst"},
		{"rps", func(c *config.Config) { c.Authority.RequestsPerSecond = 0 }, "requests_per_second"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got %v", tc.want, err)
			}
		})
	}
}

func TestValidateAuthorityEndpointRequiresBaseURL(t *testing.T) {
	cfg := config.Default()
	if err := cfg.ValidateAuthorityEndpoint(); err == nil {
		t.Fatal("expected error when base url missing")
	}
	cfg.Authority.BaseURL = "https://authority.example.org"
	if err := cfg.ValidateAuthorityEndpoint(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample failed: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Authority.BaseURL == "" {
		t.Fatal("expected sample to set authority base url")
	}
}

// chdirForTest mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdirForTest(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
