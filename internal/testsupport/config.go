package testsupport

import (
	"path/filepath"
	"testing"

	"reconcile/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Authority.BaseURL = "http://127.0.0.1:1"
	cfgVal.Authority.RequestsPerSecond = 1000
	cfgVal.Authority.Burst = 100
	cfgVal.Reconcile.SearchDebounceMillis = 20

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithAuthorityURL points the authority client at a test server.
func WithAuthorityURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Authority.BaseURL = url
	}
}

// WithThresholds overrides the default classification thresholds.
func WithThresholds(autoAccept, review float64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Reconcile.AutoAcceptThreshold = autoAccept
		b.cfg.Reconcile.ReviewThreshold = review
	}
}

// WithConcurrency sets the batch fan-out.
func WithConcurrency(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Reconcile.Concurrency = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
