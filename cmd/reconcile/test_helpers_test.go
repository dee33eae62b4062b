package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"reconcile/internal/authority"
	"reconcile/internal/batch"
	"reconcile/internal/config"
	"reconcile/internal/operation"
	"reconcile/internal/review"
	"reconcile/internal/server"
	"reconcile/internal/store"
	"reconcile/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *store.Store
	authority  *testsupport.Authority
	http       *httptest.Server
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	home := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)

	fake := testsupport.NewAuthority(t)
	cfg := testsupport.NewConfig(t, testsupport.WithAuthorityURL(fake.URL))
	cfg.Paths.APIToken = "cli-secret"
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	configPath := filepath.Join(testsupport.BaseDir(cfg), "reconcile.toml")
	writeTestConfig(t, configPath, cfg)

	st := testsupport.MustOpenStore(t, cfg)
	searcher, err := authority.NewFromConfig(cfg, nil, nil)
	if err != nil {
		t.Fatalf("authority.NewFromConfig: %v", err)
	}
	registry := operation.NewRegistry(operation.WithStore(st))
	srv, err := server.New(cfg, server.Dependencies{
		Store:       st,
		Registry:    registry,
		Runner:      batch.NewRunner(st, searcher, registry, batch.OptionsFromConfig(cfg)...),
		Coordinator: review.NewCoordinator(st, searcher, append(review.OptionsFromConfig(cfg), review.WithRegistry(registry))...),
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	httpServer := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Stop()
		httpServer.Close()
	})
	return &cliTestEnv{cfg: cfg, store: st, authority: fake, http: httpServer, configPath: configPath}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	encoded, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	testsupport.WriteFile(t, path, encoded)
}

type cliResult struct {
	stdout string
	stderr string
	err    error
}

// run executes the CLI against the test daemon with stdin fed from input.
func (e *cliTestEnv) run(t *testing.T, input string, args ...string) cliResult {
	t.Helper()
	full := append([]string{"--config", e.configPath, "--server", e.http.URL}, args...)
	return runCLI(t, input, full...)
}

func runCLI(t *testing.T, input string, args ...string) cliResult {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(input))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func (r cliResult) mustSucceed(t *testing.T) string {
	t.Helper()
	if r.err != nil {
		t.Fatalf("command failed: %v\nstdout:\n%s", r.err, r.stdout)
	}
	return r.stdout
}

func allowPrompt(t *testing.T, allowed bool) {
	t.Helper()
	previous := canPrompt
	canPrompt = func(*cobra.Command) bool { return allowed }
	t.Cleanup(func() { canPrompt = previous })
}
