// Package autosave coalesces bursts of form edits into single draft writes.
//
// Every change restarts one debounce timer. When the window elapses the
// coordinator gathers the full current value from the form session (not a
// value captured at notification time), hands it to the draft store and
// announces the save with a strictly increasing sequence number.
package autosave

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sunterra/fieldrecord/clock"
	"github.com/sunterra/fieldrecord/snapshot"
)

// DefaultWindow is the debounce window between the last edit and the write.
const DefaultWindow = 500 * time.Millisecond

// ErrClosed is returned by Flush after Teardown.
var ErrClosed = errors.New("autosave: coordinator torn down")

// Saved announces a completed write.
type Saved struct {
	Key string    `json:"key"`
	Seq uint64    `json:"seq"`
	At  time.Time `json:"at"`
}

// Label is the short indicator text shown next to the form.
func (s Saved) Label() string { return "Saved " + s.At.Format("15:04:05") }

// Sink persists gathered values. drafts.Store satisfies it.
type Sink[T any] interface {
	Save(ctx context.Context, v T) error
	Key() string
}

// Config tunes a Coordinator.
type Config struct {
	// Window is the debounce window. Default: 500ms.
	Window time.Duration
	Clock  clock.Clock
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Coordinator owns the pending debounce timer of one form.
type Coordinator[T any] struct {
	cfg    Config
	gather func() T
	sink   Sink[T]

	mu      sync.Mutex
	timer   clock.Timer
	gen     uint64
	seq     uint64
	last    Saved
	subs    map[int]func(Saved)
	nextSub int
	closed  bool

	writeMu sync.Mutex
}

// New returns a Coordinator that gathers with gather and writes to sink.
func New[T any](cfg Config, gather func() T, sink Sink[T]) *Coordinator[T] {
	cfg.defaults()
	return &Coordinator[T]{
		cfg:    cfg,
		gather: gather,
		sink:   sink,
		subs:   make(map[int]func(Saved)),
	}
}

// NotifyChange (re)starts the debounce window. Calls after Teardown are
// ignored.
func (c *Coordinator[T]) NotifyChange() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = c.cfg.Clock.AfterFunc(c.cfg.Window, func() { c.fire(gen) })
}

func (c *Coordinator[T]) fire(gen uint64) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	c.writeLocked(context.Background())
}

// Pending reports whether a debounced write is armed.
func (c *Coordinator[T]) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

// Flush cancels any pending window and writes immediately.
func (c *Coordinator[T]) Flush(ctx context.Context) (Saved, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Saved{}, ErrClosed
	}
	c.cancelLocked()
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLocked(ctx)
}

// Discard drops the pending window and runs wipe while holding the write
// lock, so no write that started earlier can land after wipe.
func (c *Coordinator[T]) Discard(wipe func() error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	c.cancelLocked()
	c.mu.Unlock()
	return wipe()
}

func (c *Coordinator[T]) cancelLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

// writeLocked gathers and persists. The caller holds writeMu.
func (c *Coordinator[T]) writeLocked(ctx context.Context) (Saved, error) {
	v := c.gather()
	if err := c.sink.Save(ctx, v); err != nil {
		c.cfg.Logger.Warn("autosave: write failed", "key", c.sink.Key(), "error", err)
		return Saved{}, err
	}

	c.mu.Lock()
	c.seq++
	ev := Saved{Key: c.sink.Key(), Seq: c.seq, At: c.cfg.Clock.Now()}
	c.last = ev
	subs := make([]func(Saved), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	c.cfg.Logger.Debug("autosave: saved", "key", ev.Key, "seq", ev.Seq)
	for _, fn := range subs {
		fn(ev)
	}
	return ev, nil
}

// Subscribe registers fn for saved events and returns its unsubscribe func.
func (c *Coordinator[T]) Subscribe(fn func(Saved)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// LastSaved returns the most recent saved event, if any.
func (c *Coordinator[T]) LastSaved() (Saved, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.seq > 0
}

// Teardown cancels the pending window. No write happens afterwards.
func (c *Coordinator[T]) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cancelLocked()
}

// Sources merges independent snapshot sources into one gather function.
// Later sources win on key collisions.
func Sources(srcs ...func() snapshot.Snapshot) func() snapshot.Snapshot {
	return func() snapshot.Snapshot {
		parts := make([]snapshot.Snapshot, len(srcs))
		for i, src := range srcs {
			parts[i] = src()
		}
		return snapshot.Merge(parts...)
	}
}
