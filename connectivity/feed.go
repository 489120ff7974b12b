package connectivity

import (
	"log/slog"
	"sync"
	"time"
)

// EventSource is the port through which page signals reach the monitor.
type EventSource interface {
	Events() <-chan Event
	// Online is the page's current network flag.
	Online() bool
	// Visible is the page's current visibility.
	Visible() bool
}

// Feed is an EventSource fed by the page's reports over the station API.
type Feed struct {
	ch     chan Event
	logger *slog.Logger

	mu      sync.Mutex
	online  bool
	visible bool
}

// NewFeed returns a Feed starting online and visible.
func NewFeed(logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{ch: make(chan Event, 64), logger: logger, online: true, visible: true}
}

// Publish records a page signal. It never blocks; when the monitor lags
// far behind the event is dropped but the flags still update.
func (f *Feed) Publish(kind EventKind) {
	f.mu.Lock()
	switch kind {
	case EventOnline:
		f.online = true
	case EventOffline:
		f.online = false
	case EventVisible:
		f.visible = true
	case EventHidden:
		f.visible = false
	}
	f.mu.Unlock()

	select {
	case f.ch <- Event{Kind: kind, At: time.Now()}:
	default:
		f.logger.Warn("connectivity: event dropped, monitor not draining", "event", kind.String())
	}
}

func (f *Feed) Events() <-chan Event { return f.ch }

func (f *Feed) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *Feed) Visible() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible
}
