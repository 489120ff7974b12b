package connectivity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sunterra/fieldrecord/clock"
)

var errUnreachable = errors.New("unreachable")

// scriptedProber returns queued outcomes, then succeeds.
type scriptedProber struct {
	mu       sync.Mutex
	outcomes []error
	calls    int
}

func (p *scriptedProber) Probe(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.outcomes) == 0 {
		return nil
	}
	err := p.outcomes[0]
	p.outcomes = p.outcomes[1:]
	return err
}

func (p *scriptedProber) push(errs ...error) {
	p.mu.Lock()
	p.outcomes = append(p.outcomes, errs...)
	p.mu.Unlock()
}

type harness struct {
	clock  *clock.Fake
	feed   *Feed
	prober *scriptedProber
	m      *Monitor
	seen   []State
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		clock:  clock.NewFake(time.Date(2025, 9, 26, 8, 0, 0, 0, time.UTC)),
		feed:   NewFeed(logger),
		prober: &scriptedProber{},
	}
	h.m = NewMonitor(Config{Clock: h.clock, Logger: logger}, h.feed, h.prober)
	h.m.Subscribe(func(s State) { h.seen = append(h.seen, s) })
	ctx, _ := h.m.arm(context.Background())
	go h.m.loop(ctx)
	t.Cleanup(h.m.Stop)
	return h
}

func (h *harness) event(k EventKind) {
	if h.m.handle(Event{Kind: k}) {
		h.m.runProbe()
	}
}

// tick advances to the next periodic probe.
func (h *harness) tick() { h.clock.Advance(30 * time.Second) }

func TestMonitor_SingleFailureKeepsVerified(t *testing.T) {
	h := newHarness(t)
	h.prober.push(errUnreachable)
	h.tick()
	h.tick()
	if got := h.m.State(); got != VerifiedOnline {
		t.Fatalf("state: got %v, want online", got)
	}
	if len(h.seen) != 0 {
		t.Fatalf("state changes emitted: %v", h.seen)
	}
}

func TestMonitor_ThresholdDegrades(t *testing.T) {
	h := newHarness(t)
	h.prober.push(errUnreachable, errUnreachable)
	h.tick()
	if h.m.State() != VerifiedOnline {
		t.Fatalf("after 1 failure: %v", h.m.State())
	}
	h.tick()
	if h.m.State() != Degraded {
		t.Fatalf("after 2 failures: %v", h.m.State())
	}
}

func TestMonitor_RestoredFiresOnceAndExpires(t *testing.T) {
	h := newHarness(t)
	h.event(EventOffline)
	if h.m.State() != Offline {
		t.Fatalf("state: %v", h.m.State())
	}

	h.prober.push(errUnreachable, errUnreachable)
	h.event(EventOnline) // immediate probe fails
	h.tick()             // fails again
	h.tick()             // succeeds

	restored := 0
	for _, s := range h.seen {
		if s == JustRestored {
			restored++
		}
	}
	if restored != 1 {
		t.Fatalf("restored emitted %d times: %v", restored, h.seen)
	}
	if h.m.State() != JustRestored {
		t.Fatalf("state: %v", h.m.State())
	}

	h.clock.Advance(2 * time.Second)
	if h.m.State() != VerifiedOnline {
		t.Fatalf("restored did not expire: %v", h.m.State())
	}
	want := []State{Offline, Degraded, JustRestored, VerifiedOnline}
	if len(h.seen) != len(want) {
		t.Fatalf("sequence: got %v, want %v", h.seen, want)
	}
	for i := range want {
		if h.seen[i] != want[i] {
			t.Fatalf("sequence: got %v, want %v", h.seen, want)
		}
	}
}

func TestMonitor_NoProbeWhileOfflineOrHidden(t *testing.T) {
	h := newHarness(t)
	h.event(EventHidden)
	h.tick()
	if h.prober.calls != 0 {
		t.Fatalf("probed while hidden: %d", h.prober.calls)
	}

	h.event(EventOffline)
	h.event(EventVisible)
	h.tick()
	if h.prober.calls != 0 {
		t.Fatalf("probed while offline: %d", h.prober.calls)
	}

	h.event(EventOnline)
	if h.prober.calls != 1 {
		t.Fatalf("online event should probe immediately, calls=%d", h.prober.calls)
	}
}

func TestMonitor_OfflineResetsFailures(t *testing.T) {
	h := newHarness(t)
	h.prober.push(errUnreachable)
	h.tick()
	h.event(EventOffline)
	h.event(EventOnline) // success
	if h.m.Status().Failures != 0 {
		t.Fatalf("failures: %d", h.m.Status().Failures)
	}
	h.clock.Advance(2 * time.Second)
	h.prober.push(errUnreachable)
	h.tick()
	if h.m.State() != VerifiedOnline {
		t.Fatalf("one failure after reset degraded the state: %v", h.m.State())
	}
}

func TestMonitor_NeverVerifiedAtThreshold(t *testing.T) {
	h := newHarness(t)
	h.m.Subscribe(func(s State) {
		if s == VerifiedOnline && h.m.failures >= h.m.cfg.FailThreshold {
			t.Errorf("verified online with %d failures", h.m.failures)
		}
	})
	for range 5 {
		h.prober.push(errUnreachable)
		h.tick()
	}
	h.tick()
	h.clock.Advance(2 * time.Second)
}

func TestMonitor_StopCancelsTimers(t *testing.T) {
	h := newHarness(t)
	h.event(EventOffline)
	h.event(EventOnline)
	h.m.Stop()
	if n := h.clock.Pending(); n != 0 {
		t.Fatalf("timers armed after stop: %d", n)
	}
	calls := h.prober.calls
	h.tick()
	if h.prober.calls != calls {
		t.Fatal("probe ran after stop")
	}
}

func TestMonitor_RestartAfterStop(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	feed := NewFeed(logger)
	m := NewMonitor(Config{Logger: logger}, feed, &scriptedProber{})

	m.Start(context.Background())
	m.Stop()
	m.Start(context.Background())
	feed.Publish(EventOffline)
	deadline := time.Now().Add(2 * time.Second)
	for m.State() != Offline {
		if time.Now().After(deadline) {
			t.Fatalf("restarted monitor ignored offline event: %v", m.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	m.Stop()
	feed.Publish(EventOnline)
	time.Sleep(20 * time.Millisecond)
	if got := m.State(); got != Offline {
		t.Fatalf("stopped monitor handled an event: %v", got)
	}
	m.Stop()
}

func TestMonitor_ProbeTimeout(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	feed := NewFeed(logger)
	slow := ProbeFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	m := NewMonitor(Config{Timeout: 10 * time.Millisecond, Logger: logger}, feed, slow)
	m.runProbe()
	m.runProbe()
	if m.State() != Degraded {
		t.Fatalf("timeouts should count as failures, state=%v", m.State())
	}
}

func TestHTTPProber(t *testing.T) {
	var gotMethod, gotCache string
	status := http.StatusNoContent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotCache = r.Header.Get("Cache-Control")
		w.WriteHeader(status)
	}))
	defer srv.Close()

	p := NewHTTPProber(srv.URL + "/favicon.png")
	if err := p.Probe(context.Background()); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if gotMethod != http.MethodHead || gotCache != "no-store" {
		t.Fatalf("request: method=%s cache=%q", gotMethod, gotCache)
	}

	status = http.StatusBadGateway
	err := p.Probe(context.Background())
	var pe *ProbeError
	if !errors.As(err, &pe) || pe.Status != http.StatusBadGateway {
		t.Fatalf("got %v, want ProbeError 502", err)
	}

	for _, code := range []int{http.StatusNotFound, http.StatusForbidden} {
		status = code
		err := p.Probe(context.Background())
		if !errors.As(err, &pe) || pe.Status != code {
			t.Errorf("status %d: got %v, want ProbeError", code, err)
		}
	}
}

func TestParseEventKind(t *testing.T) {
	for _, name := range []string{"online", "offline", "visible", "hidden"} {
		k, err := ParseEventKind(name)
		if err != nil {
			t.Fatal(err)
		}
		if k.String() != name {
			t.Fatalf("round trip: %s -> %s", name, k)
		}
	}
	if _, err := ParseEventKind("pagehide"); err == nil {
		t.Fatal("expected error")
	}
}
