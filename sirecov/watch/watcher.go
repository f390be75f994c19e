// Package watch tails the record store and applies lines appended by other
// writers to a running engine.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Syncer applies whatever the store gained since the last call.
type Syncer interface {
	Sync(ctx context.Context) (int, error)
}

// StoreWatcher runs Syncer.Sync whenever the data file is written or
// recreated. Bursts of events closer together than the debounce delay
// collapse into one sync.
type StoreWatcher struct {
	path     string
	syncer   Syncer
	debounce time.Duration
	logger   zerolog.Logger

	ready     chan struct{}
	readyOnce sync.Once

	syncs   atomic.Int64
	applied atomic.Int64
	failed  atomic.Int64
}

// NewStoreWatcher watches path and reports changes to syncer. A
// non-positive debounce syncs on every event.
func NewStoreWatcher(path string, syncer Syncer, debounce time.Duration, logger zerolog.Logger) *StoreWatcher {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	return &StoreWatcher{
		path:     abs,
		syncer:   syncer,
		debounce: debounce,
		logger:   logger.With().Str("component", "watcher").Str("path", abs).Logger(),
		ready:    make(chan struct{}),
	}
}

// Ready is closed once the watcher is registered and events will be seen.
func (w *StoreWatcher) Ready() <-chan struct{} { return w.ready }

// Syncs returns how many syncs ran.
func (w *StoreWatcher) Syncs() int64 { return w.syncs.Load() }

// Applied returns how many records the syncs applied in total.
func (w *StoreWatcher) Applied() int64 { return w.applied.Load() }

// Failed returns how many syncs returned an error.
func (w *StoreWatcher) Failed() int64 { return w.failed.Load() }

// Run blocks until ctx is done. The parent directory is watched rather than
// the file itself so a replaced or recreated file keeps being followed.
func (w *StoreWatcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	w.readyOnce.Do(func() { close(w.ready) })
	w.logger.Info().Dur("debounce", w.debounce).Msg("watching store")

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("watcher stopped")
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if w.debounce <= 0 {
				w.sync(ctx)
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C

		case <-fire:
			timer, fire = nil, nil
			w.sync(ctx)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("fsnotify error")
		}
	}
}

func (w *StoreWatcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.logger.Warn().Str("op", event.Op.String()).Msg("store file moved away")
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create)
}

func (w *StoreWatcher) sync(ctx context.Context) {
	n, err := w.syncer.Sync(ctx)
	w.syncs.Add(1)
	if err != nil {
		w.failed.Add(1)
		w.logger.Error().Err(err).Msg("sync failed")
		return
	}
	w.applied.Add(int64(n))
	w.logger.Debug().Int("applied", n).Msg("synced")
}
