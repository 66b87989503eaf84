package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"canvas-sync/internal/model"
	"canvas-sync/internal/undo"
)

// SnapshotFunc returns the state to persist. It is called from the saver's
// timer goroutine, so it must do its own locking.
type SnapshotFunc func() (model.ServerState, map[string]undo.Snapshot)

// DebouncedSaver coalesces bursts of mutations into one SaveState call.
type DebouncedSaver struct {
	store    Store
	debounce time.Duration
	snapshot SnapshotFunc
	log      *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	running bool
}

type DebouncedSaverOpts struct {
	Store    Store
	Debounce time.Duration
	Snapshot SnapshotFunc
	Logger   *slog.Logger
}

func NewDebouncedSaver(opts DebouncedSaverOpts) *DebouncedSaver {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &DebouncedSaver{
		store:    opts.Store,
		debounce: debounce,
		snapshot: opts.Snapshot,
		log:      log,
	}
}

// Notify schedules a save after the debounce window, restarting the window if
// one is already pending.
func (d *DebouncedSaver) Notify() {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.pending = true
	if d.timer == nil {
		d.timer = time.AfterFunc(d.debounce, d.onTimer)
		d.mu.Unlock()
		return
	}
	d.timer.Reset(d.debounce)
	d.mu.Unlock()
}

func (d *DebouncedSaver) onTimer() {
	d.mu.Lock()
	if d.running {
		// A save is in flight; try again once it is done.
		if d.timer != nil {
			d.timer.Reset(d.debounce)
		}
		d.mu.Unlock()
		return
	}
	if !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.running = true
	d.mu.Unlock()

	if err := d.save(context.Background()); err != nil {
		d.log.Error("save state", "dir", d.store.Dir, "error", err)
	}

	d.mu.Lock()
	d.running = false
	if d.pending && d.timer != nil {
		d.timer.Reset(d.debounce)
	}
	d.mu.Unlock()
}

// Flush stops the timer and saves immediately if anything is pending.
func (d *DebouncedSaver) Flush(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	pending := d.pending
	d.pending = false
	d.mu.Unlock()
	if !pending {
		return nil
	}
	return d.save(ctx)
}

func (d *DebouncedSaver) save(ctx context.Context) error {
	if d.snapshot == nil {
		return nil
	}
	st, hists := d.snapshot()
	return d.store.SaveState(ctx, st, hists)
}
