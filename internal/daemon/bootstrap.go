package daemon

import (
	"fmt"
	"log/slog"

	"reconcile/internal/authority"
	"reconcile/internal/batch"
	"reconcile/internal/config"
	"reconcile/internal/logging"
	"reconcile/internal/metrics"
	"reconcile/internal/operation"
	"reconcile/internal/review"
	"reconcile/internal/server"
	"reconcile/internal/store"
)

// Assemble opens the store and builds every daemon component from cfg.
func Assemble(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.ValidateAuthorityEndpoint(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	collector := metrics.New()
	searcher, err := authority.NewFromConfig(cfg, logger, collector)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("authority client: %w", err)
	}
	registry := operation.NewRegistry(
		operation.WithStore(st),
		operation.WithLogger(logger),
		operation.WithMetrics(collector),
	)
	runner := batch.NewRunner(st, searcher, registry,
		append(batch.OptionsFromConfig(cfg), batch.WithLogger(logger), batch.WithMetrics(collector))...)
	coordinator := review.NewCoordinator(st, searcher,
		append(review.OptionsFromConfig(cfg),
			review.WithRegistry(registry),
			review.WithLogger(logger),
			review.WithMetrics(collector),
		)...)

	srv, err := server.New(cfg, server.Dependencies{
		Store:       st,
		Registry:    registry,
		Runner:      runner,
		Coordinator: coordinator,
		Metrics:     collector,
		Logger:      logger,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("api server: %w", err)
	}
	d, err := New(cfg, st, registry, srv, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return d, nil
}
