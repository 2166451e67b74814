package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"github.com/abrahamrini7-jpg/catalogIQ/internal/config"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/dispatch"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/feed"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/logging"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/step"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/task"
)

// Daemon wires the feed listener to the dispatcher and enforces
// single-instance execution through a lock file.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *task.Store
	listener   *feed.Listener
	dispatcher *dispatch.Dispatcher

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	TaskDBPath   string
	LockFilePath string
	Tasks        task.HealthSummary
	Steps        []step.Health
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *task.Store, logger *slog.Logger, listener *feed.Listener, dispatcher *dispatch.Dispatcher) (*Daemon, error) {
	if cfg == nil || store == nil || listener == nil || dispatcher == nil {
		return nil, errors.New("daemon requires config, store, listener, and dispatcher")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "catalogiqd.lock")
	return &Daemon{
		cfg:        cfg,
		logger:     logger.With(logging.String(logging.FieldComponent, "daemon")),
		store:      store,
		listener:   listener,
		dispatcher: dispatcher,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock and launches the listener and dispatcher.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another catalogiq daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.listener.Start(runCtx); err != nil {
		d.releaseLock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start feed listener: %w", err)
	}
	if err := d.dispatcher.Start(runCtx, d.listener.Events()); err != nil {
		d.listener.Stop()
		d.releaseLock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start dispatcher: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("catalogiq daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.listener.Stop()
	d.dispatcher.Stop()
	d.releaseLock()
	d.running.Store(false)
	d.logger.Info("catalogiq daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status reports runtime and task state for diagnostics.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	health, err := d.store.Health(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Running:      d.running.Load(),
		TaskDBPath:   d.store.Path(),
		LockFilePath: d.lockPath,
		Tasks:        health,
		Steps:        d.dispatcher.HealthChecks(ctx),
	}, nil
}

func (d *Daemon) releaseLock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}
