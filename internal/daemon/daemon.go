// Package daemon runs the background sync loop.
//
// The daemon:
//  1. Recovers tasks orphaned by a previous crash
//  2. Syncs every registered credential on a cron schedule
//  3. Watches the encrypted credential container so externally registered
//     credentials trigger a sync without waiting for the schedule
//  4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ledgerhound/ledgerhound/internal/store"
	"github.com/ledgerhound/ledgerhound/internal/syncer"
	"github.com/ledgerhound/ledgerhound/internal/vault"
)

// Config holds daemon tuning.
type Config struct {
	// Schedule is a cron expression for periodic sync runs.
	Schedule string

	// Debounce is how long to wait after a vault change before syncing,
	// batching rapid successive writes into one run.
	Debounce time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Schedule: "@every 6h",
		Debounce: 2 * time.Second,
	}
}

// Daemon owns the scheduled and change-triggered sync runs.
type Daemon struct {
	store  *store.DB
	syncer *syncer.Syncer
	vault  *vault.Vault
	config Config
	logger *zap.Logger

	watcher *fsnotify.Watcher
	cron    *cron.Cron
	kick    chan struct{}

	// stop is closed by Stop; Start watches it. A channel rather than a
	// stored cancel func so Stop is safe from any goroutine at any time,
	// including before Start.
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// runMu serializes sync runs; a cron tick during a change-triggered
	// run waits instead of racing it.
	runMu sync.Mutex
}

// New builds a daemon. Start must be called to begin syncing.
func New(db *store.DB, s *syncer.Syncer, v *vault.Vault, cfg Config, logger *zap.Logger) (*Daemon, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultConfig().Schedule
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultConfig().Debounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Daemon{
		store:   db,
		syncer:  s,
		vault:   v,
		config:  cfg,
		logger:  logger,
		watcher: watcher,
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}, nil
}

// Start runs the daemon until ctx is cancelled. It blocks.
func (d *Daemon) Start(ctx context.Context) error {
	select {
	case <-d.stop:
		// Stopped before it ever started.
		return d.watcher.Close()
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	d.logger.Info("starting sync daemon",
		zap.String("schedule", d.config.Schedule),
		zap.Duration("debounce", d.config.Debounce))

	// Tasks claimed by a process that died are rolled back exactly once,
	// here, before any run can claim new ones.
	reset, err := d.store.ResetStuck(ctx)
	if err != nil {
		return fmt.Errorf("crash recovery failed: %w", err)
	}
	if reset > 0 {
		d.logger.Info("recovered orphaned sync tasks", zap.Int64("count", reset))
	}

	// The container file may not exist yet; watching its directory catches
	// its creation too.
	dir := filepath.Dir(d.vault.DataFile())
	if err := d.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch vault directory: %w", err)
	}

	d.cron = cron.New()
	if _, err := d.cron.AddFunc(d.config.Schedule, func() {
		select {
		case d.kick <- struct{}{}:
		default:
		}
	}); err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", d.config.Schedule, err)
	}
	d.cron.Start()

	d.wg.Add(2)
	go d.watchVault(ctx)
	go d.runLoop(ctx)

	// First run immediately: the daemon's whole point is keeping the
	// ledger current, not waiting out the first cron interval.
	d.kick <- struct{}{}

	<-ctx.Done()
	return d.shutdown()
}

// Stop requests shutdown. Safe to call from any goroutine, more than once,
// and before or after Start.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
}

func (d *Daemon) shutdown() error {
	d.logger.Info("stopping sync daemon")

	cronCtx := d.cron.Stop()
	if err := d.watcher.Close(); err != nil {
		d.logger.Warn("error closing watcher", zap.Error(err))
	}
	d.wg.Wait()
	<-cronCtx.Done()

	d.logger.Info("sync daemon stopped")
	return nil
}

// runLoop drains kick signals and performs sync runs.
func (d *Daemon) runLoop(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.kick:
			d.runAll(ctx)
		}
	}
}

func (d *Daemon) runAll(ctx context.Context) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	results, err := d.syncer.RunAll(ctx)
	if err != nil {
		d.logger.Error("sync run had failures", zap.Error(err))
	}
	for _, res := range results {
		d.logger.Info("credential synced",
			zap.String("credential_id", res.CredentialID),
			zap.Int("dates_processed", res.DatesProcessed),
			zap.Int("dates_failed", res.DatesFailed),
			zap.Int("records", res.Records),
			zap.Int64("watermark", res.Watermark))
	}
}

// watchVault converts container-file events into debounced kick signals.
func (d *Daemon) watchVault(ctx context.Context) {
	defer d.wg.Done()

	target := d.vault.DataFile()
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Name != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			d.logger.Debug("vault container changed", zap.String("op", event.Op.String()))

			// Restart the debounce window on every write in the burst.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(d.config.Debounce, func() {
				select {
				case d.kick <- struct{}{}:
				default:
				}
			})

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn("watcher error", zap.Error(err))
		}
	}
}
