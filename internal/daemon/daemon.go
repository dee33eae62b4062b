package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gofrs/flock"

	"reconcile/internal/config"
	"reconcile/internal/logging"
	"reconcile/internal/operation"
	"reconcile/internal/server"
	"reconcile/internal/store"
)

// Daemon enforces single-instance execution around the API server.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	registry *operation.Registry
	server   *server.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running          bool
	DatabasePath     string
	LockFilePath     string
	APIAddress       string
	ActiveOperations int
}

// New constructs a daemon around already built components.
func New(cfg *config.Config, st *store.Store, registry *operation.Registry, srv *server.Server, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil || registry == nil || srv == nil {
		return nil, errors.New("daemon requires config, store, registry, and server")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    st,
		registry: registry,
		server:   srv,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and begins serving the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another reconcile daemon already holds %s", d.lockPath)
	}

	interrupted, err := d.store.FailInterrupted(ctx)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("recover interrupted operations: %w", err)
	}
	if interrupted > 0 {
		logging.WarnWithContext(d.logger, "operations interrupted by previous shutdown marked failed", "operations_interrupted",
			logging.Int("count", interrupted),
			logging.String(logging.FieldErrorHint, "re-run reconciliation for the affected entity fields"),
		)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.server.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api server: %w", err)
	}
	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("reconcile daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.server.Addr()),
	)
	return nil
}

// Stop shuts the API server down and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Swap(false) {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.server.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.logger.Info("reconcile daemon stopped")
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Status reports runtime information.
func (d *Daemon) Status() Status {
	return Status{
		Running:          d.running.Load(),
		DatabasePath:     d.store.Path(),
		LockFilePath:     d.lockPath,
		APIAddress:       d.server.Addr(),
		ActiveOperations: countActive(d.registry.List()),
	}
}

func countActive(ops []operation.Operation) int {
	active := 0
	for _, op := range ops {
		if !op.Status.Terminal() {
			active++
		}
	}
	return active
}
