package autosave

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sunterra/fieldrecord/clock"
	"github.com/sunterra/fieldrecord/snapshot"
)

type recordingSink struct {
	mu     sync.Mutex
	writes []snapshot.Snapshot
	err    error
}

func (r *recordingSink) Save(_ context.Context, v snapshot.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.writes = append(r.writes, v.Clone())
	return nil
}

func (r *recordingSink) Key() string { return "sunterra_itr_form_data" }

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

type fixture struct {
	clock *clock.Fake
	sink  *recordingSink
	form  snapshot.Snapshot
	c     *Coordinator[snapshot.Snapshot]
}

func newFixture() *fixture {
	f := &fixture{
		clock: clock.NewFake(time.Date(2025, 9, 26, 14, 3, 7, 0, time.UTC)),
		sink:  &recordingSink{},
		form:  snapshot.Snapshot{},
	}
	f.c = New[snapshot.Snapshot](Config{
		Clock:  f.clock,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, func() snapshot.Snapshot { return f.form.Clone() }, f.sink)
	return f
}

func TestCoordinator_BurstCoalesces(t *testing.T) {
	f := newFixture()
	for i := range 10 {
		f.form["jobNumber"] = string(rune('A' + i))
		f.c.NotifyChange()
		f.clock.Advance(100 * time.Millisecond)
	}
	if n := f.sink.count(); n != 0 {
		t.Fatalf("writes during burst: %d", n)
	}
	f.clock.Advance(DefaultWindow)
	if n := f.sink.count(); n != 1 {
		t.Fatalf("writes after burst: got %d, want 1", n)
	}
	if got := f.sink.writes[0].String("jobNumber"); got != "J" {
		t.Fatalf("flushed %q, want last value J", got)
	}
}

func TestCoordinator_GathersAtFlushTime(t *testing.T) {
	f := newFixture()
	f.form["customerName"] = "before"
	f.c.NotifyChange()
	f.clock.Advance(400 * time.Millisecond)
	f.form["customerName"] = "after"
	f.clock.Advance(100 * time.Millisecond)

	if got := f.sink.writes[0].String("customerName"); got != "after" {
		t.Fatalf("got %q, want after", got)
	}
}

func TestCoordinator_SeqIncreases(t *testing.T) {
	f := newFixture()
	var events []Saved
	unsub := f.c.Subscribe(func(s Saved) { events = append(events, s) })

	for range 3 {
		f.c.NotifyChange()
		f.clock.Advance(time.Second)
	}
	unsub()
	f.c.NotifyChange()
	f.clock.Advance(time.Second)

	if len(events) != 3 {
		t.Fatalf("events: got %d, want 3", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Seq <= events[i-1].Seq {
			t.Fatalf("seq not increasing: %v", events)
		}
	}
	last, ok := f.c.LastSaved()
	if !ok || last.Seq != 4 {
		t.Fatalf("last saved: %+v %v", last, ok)
	}
	if last.Label() != "Saved 14:03:10" {
		t.Fatalf("label: %q", last.Label())
	}
}

func TestCoordinator_DiscardKeepsCoordinatorUsable(t *testing.T) {
	f := newFixture()
	f.c.NotifyChange()
	if err := f.c.Discard(func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(time.Second)
	if n := f.sink.count(); n != 0 {
		t.Fatalf("writes after discard: %d", n)
	}
	f.c.NotifyChange()
	f.clock.Advance(time.Second)
	if n := f.sink.count(); n != 1 {
		t.Fatalf("writes after re-arm: %d", n)
	}
}

func TestCoordinator_TeardownCancelsPending(t *testing.T) {
	f := newFixture()
	f.c.NotifyChange()
	f.c.Teardown()
	f.clock.Advance(time.Second)
	f.c.NotifyChange()
	f.clock.Advance(time.Second)

	if n := f.sink.count(); n != 0 {
		t.Fatalf("writes after teardown: %d", n)
	}
	if f.clock.Pending() != 0 {
		t.Fatalf("timers left armed: %d", f.clock.Pending())
	}
	if _, err := f.c.Flush(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("flush after teardown: %v", err)
	}
}

func TestCoordinator_FlushCancelsWindow(t *testing.T) {
	f := newFixture()
	f.c.NotifyChange()
	ev, err := f.c.Flush(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ev.Seq != 1 || f.c.Pending() {
		t.Fatalf("flush: %+v pending=%v", ev, f.c.Pending())
	}
	f.clock.Advance(time.Second)
	if n := f.sink.count(); n != 1 {
		t.Fatalf("writes: got %d, want 1", n)
	}
}

func TestCoordinator_FailedWriteNotAnnounced(t *testing.T) {
	f := newFixture()
	f.sink.err = errors.New("quota exceeded")
	announced := false
	f.c.Subscribe(func(Saved) { announced = true })

	f.c.NotifyChange()
	f.clock.Advance(time.Second)
	if announced {
		t.Fatal("failed write was announced")
	}
	if _, ok := f.c.LastSaved(); ok {
		t.Fatal("LastSaved reports a save")
	}
}

func TestSources_MergeOrder(t *testing.T) {
	gather := Sources(
		func() snapshot.Snapshot { return snapshot.Snapshot{"a": "fields", "signoff_signature": ""} },
		func() snapshot.Snapshot { return snapshot.Snapshot{"testResult_1_polarity": "ok"} },
		func() snapshot.Snapshot { return snapshot.Snapshot{"signoff_signature": "data:image/png;base64,AA"} },
	)
	got := gather()
	if got.String("signoff_signature") != "data:image/png;base64,AA" || got.String("testResult_1_polarity") != "ok" {
		t.Fatalf("merged: %v", got)
	}
}

type blockingSink struct {
	mu      sync.Mutex
	stored  snapshot.Snapshot
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSink) Save(_ context.Context, v snapshot.Snapshot) error {
	close(b.entered)
	<-b.release
	b.mu.Lock()
	b.stored = v.Clone()
	b.mu.Unlock()
	return nil
}

func (b *blockingSink) Key() string { return "sunterra_itr_form_data" }

func (b *blockingSink) wipe() error {
	b.mu.Lock()
	b.stored = nil
	b.mu.Unlock()
	return nil
}

func TestCoordinator_DiscardWaitsForInflightWrite(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 9, 26, 14, 3, 7, 0, time.UTC))
	sink := &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
	c := New[snapshot.Snapshot](Config{
		Clock:  clk,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, func() snapshot.Snapshot { return snapshot.Snapshot{"jobNumber": "stale"} }, sink)

	c.NotifyChange()
	fired := make(chan struct{})
	go func() {
		clk.Advance(time.Second)
		close(fired)
	}()
	<-sink.entered

	discarded := make(chan error, 1)
	go func() { discarded <- c.Discard(sink.wipe) }()
	close(sink.release)

	if err := <-discarded; err != nil {
		t.Fatal(err)
	}
	<-fired

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.stored != nil {
		t.Fatalf("draft %v written back after Discard", sink.stored)
	}
}
