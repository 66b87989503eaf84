package undo

import (
	"sync"
	"time"
)

type Direction string

const (
	DirectionUndo Direction = "undo"
	DirectionRedo Direction = "redo"
)

// DefaultConfirmWindow is how long a confirmation stays visible.
const DefaultConfirmWindow = 1500 * time.Millisecond

// Confirmation holds the most recent undo/redo target for a bounded display
// window, then clears itself.
type Confirmation struct {
	window   time.Duration
	onChange func()

	mu    sync.Mutex
	timer *time.Timer
	entry Entry
	dir   Direction
	seq   uint64
}

type ConfirmationOpts struct {
	Window time.Duration
	// OnChange is called (from a timer goroutine on expiry) whenever the slot changes.
	OnChange func()
}

func NewConfirmation(opts ConfirmationOpts) *Confirmation {
	window := opts.Window
	if window <= 0 {
		window = DefaultConfirmWindow
	}
	return &Confirmation{window: window, onChange: opts.OnChange}
}

// Show replaces the slot and restarts the display window.
func (c *Confirmation) Show(e Entry, dir Direction) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entry = e
	c.dir = dir
	c.seq++
	seq := c.seq
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.window, func() { c.expire(seq) })
	c.mu.Unlock()
	c.notify()
}

func (c *Confirmation) expire(seq uint64) {
	c.mu.Lock()
	if seq != c.seq || c.entry == nil {
		// Superseded by a later Show.
		c.mu.Unlock()
		return
	}
	c.entry = nil
	c.dir = ""
	c.mu.Unlock()
	c.notify()
}

// Current returns the visible entry, if any.
func (c *Confirmation) Current() (Entry, Direction, bool) {
	if c == nil {
		return nil, "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil {
		return nil, "", false
	}
	return c.entry, c.dir, true
}

// Stop clears the slot and cancels the pending timer.
func (c *Confirmation) Stop() {
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.entry = nil
	c.dir = ""
	c.seq++
	c.mu.Unlock()
}

func (c *Confirmation) notify() {
	if c.onChange != nil {
		c.onChange()
	}
}
