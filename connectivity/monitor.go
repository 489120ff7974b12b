// Package connectivity tells the form whether it is really online.
//
// The page's own online flag is not trusted on its own: the Monitor pairs
// it with periodic reachability probes and only reports Degraded after
// FailThreshold consecutive failures. A confirmed recovery surfaces as a
// short-lived JustRestored state.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sunterra/fieldrecord/clock"
)

// Config tunes a Monitor.
type Config struct {
	// Interval between periodic probes. Default: 30s.
	Interval time.Duration
	// Timeout of a single probe. Default: 5s.
	Timeout time.Duration
	// FailThreshold is the number of consecutive failures before Degraded.
	// Default: 2.
	FailThreshold int
	// RestoredFor is how long JustRestored lasts. Default: 2s.
	RestoredFor time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.FailThreshold <= 0 {
		c.FailThreshold = 2
	}
	if c.RestoredFor <= 0 {
		c.RestoredFor = 2 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Monitor derives the connectivity State from page events and probes.
type Monitor struct {
	cfg    Config
	src    EventSource
	prober Prober

	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	running       bool
	browserOnline bool
	visible       bool
	verified      bool
	wasOffline    bool
	restored      bool
	failures      int
	probeTimer    clock.Timer
	restoreTimer  clock.Timer
	subs          map[int]func(State)
	nextSub       int
	loops         sync.WaitGroup

	emitMu  sync.Mutex
	emitted State
	since   time.Time
}

// NewMonitor wires a Monitor to its ports. Call Start to begin.
func NewMonitor(cfg Config, src EventSource, prober Prober) *Monitor {
	cfg.defaults()
	m := &Monitor{
		cfg:           cfg,
		src:           src,
		prober:        prober,
		browserOnline: src.Online(),
		visible:       src.Visible(),
		verified:      true,
		subs:          make(map[int]func(State)),
		ctx:           context.Background(),
	}
	m.emitted = m.derive()
	m.since = cfg.Clock.Now()
	return m
}

// Start runs the event loop and the periodic probe until ctx is cancelled
// or Stop is called. An initial probe runs immediately.
func (m *Monitor) Start(ctx context.Context) {
	runCtx, ok := m.arm(ctx)
	if !ok {
		return
	}
	go m.loop(runCtx)
	go m.runProbe()
}

// arm sets up the run context and the periodic probe timer.
func (m *Monitor) arm(ctx context.Context) (context.Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil, false
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.running = true
	m.loops.Add(1)
	m.armProbeLocked()
	return m.ctx, true
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.loops.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.src.Events():
			if m.handle(ev) {
				go m.runProbe()
			}
		}
	}
}

// Stop cancels both timers, any in-flight probe and the event loop, and
// returns once the loop has exited.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	stopTimer(&m.probeTimer)
	stopTimer(&m.restoreTimer)
	m.mu.Unlock()
	m.loops.Wait()
}

func stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.derive()
}

// Status returns the current state with its bookkeeping.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	s := m.derive()
	failures := m.failures
	m.mu.Unlock()

	m.emitMu.Lock()
	since := m.since
	m.emitMu.Unlock()
	return Status{State: s, Online: s.Online(), Failures: failures, Since: since}
}

// Subscribe registers fn for state changes and returns its unsubscribe func.
func (m *Monitor) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// derive maps the raw flags to a State. Caller holds mu.
func (m *Monitor) derive() State {
	switch {
	case !m.browserOnline:
		return Offline
	case !m.verified || m.failures >= m.cfg.FailThreshold:
		return Degraded
	case m.restored:
		return JustRestored
	}
	return VerifiedOnline
}

// handle applies one page event and reports whether a probe should run now.
func (m *Monitor) handle(ev Event) bool {
	m.mu.Lock()
	probe := false
	switch ev.Kind {
	case EventOffline:
		m.browserOnline = false
		m.verified = false
		m.wasOffline = true
		m.failures = 0
		m.restored = false
		stopTimer(&m.restoreTimer)
	case EventOnline:
		m.browserOnline = true
		m.failures = 0
		probe = m.visible
	case EventVisible:
		m.visible = true
		probe = m.browserOnline
	case EventHidden:
		m.visible = false
	}
	m.mu.Unlock()

	m.cfg.Logger.Debug("connectivity: event", "event", ev.Kind.String())
	m.emit()
	return probe
}

func (m *Monitor) armProbeLocked() {
	stopTimer(&m.probeTimer)
	m.probeTimer = m.cfg.Clock.AfterFunc(m.cfg.Interval, m.tick)
}

func (m *Monitor) tick() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.armProbeLocked()
	m.mu.Unlock()
	m.runProbe()
}

// runProbe performs one probe unless the page is hidden or offline, and
// applies its outcome. Outcomes arriving after Stop are discarded.
func (m *Monitor) runProbe() {
	m.mu.Lock()
	parent := m.ctx
	skip := !m.browserOnline || !m.visible
	m.mu.Unlock()
	if skip || parent.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(parent, m.cfg.Timeout)
	err := m.prober.Probe(ctx)
	cancel()
	if parent.Err() != nil {
		return
	}

	m.mu.Lock()
	if !m.browserOnline {
		// The page went offline while the probe was in flight.
		m.mu.Unlock()
		return
	}
	if err == nil {
		m.failures = 0
		m.verified = true
		if m.wasOffline {
			m.wasOffline = false
			m.restored = true
			stopTimer(&m.restoreTimer)
			m.restoreTimer = m.cfg.Clock.AfterFunc(m.cfg.RestoredFor, m.expireRestored)
		}
	} else {
		m.failures++
		if m.failures >= m.cfg.FailThreshold {
			m.verified = false
			m.wasOffline = true
			m.restored = false
			stopTimer(&m.restoreTimer)
		}
	}
	failures := m.failures
	m.mu.Unlock()

	if err != nil {
		m.cfg.Logger.Debug("connectivity: probe failed", "failures", failures, "error", err)
	}
	m.emit()
}

func (m *Monitor) expireRestored() {
	m.mu.Lock()
	m.restored = false
	m.restoreTimer = nil
	m.mu.Unlock()
	m.emit()
}

// emit notifies subscribers when the derived state differs from the last
// one they saw. Serialised so subscribers observe states in order.
func (m *Monitor) emit() {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	s := m.derive()
	if s == m.emitted {
		m.mu.Unlock()
		return
	}
	subs := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	prev := m.emitted
	m.emitted = s
	m.since = m.cfg.Clock.Now()
	m.cfg.Logger.Info("connectivity: state changed", "from", prev.String(), "to", s.String())
	for _, fn := range subs {
		fn(s)
	}
}
