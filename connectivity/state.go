package connectivity

import (
	"fmt"
	"time"
)

// State is the user-facing connectivity state.
type State int

const (
	// Offline: the page reports no network.
	Offline State = iota
	// Degraded: the page reports a network but upstream reachability is
	// not confirmed (consecutive probe failures reached the threshold, or
	// the network just came back and no probe has confirmed it yet).
	Degraded
	// VerifiedOnline: the last probe succeeded.
	VerifiedOnline
	// JustRestored: connectivity was confirmed after an offline or degraded
	// period. Expires to VerifiedOnline.
	JustRestored
)

var stateNames = [...]string{"offline", "degraded", "online", "restored"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Online reports whether the state allows online-only actions.
func (s State) Online() bool { return s == VerifiedOnline || s == JustRestored }

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// EventKind enumerates the page signals the monitor consumes.
type EventKind int

const (
	EventOnline EventKind = iota + 1
	EventOffline
	EventVisible
	EventHidden
)

var eventNames = map[string]EventKind{
	"online":  EventOnline,
	"offline": EventOffline,
	"visible": EventVisible,
	"hidden":  EventHidden,
}

// ParseEventKind maps the page's event names to an EventKind.
func ParseEventKind(s string) (EventKind, error) {
	k, ok := eventNames[s]
	if !ok {
		return 0, fmt.Errorf("connectivity: unknown event %q", s)
	}
	return k, nil
}

func (k EventKind) String() string {
	for name, v := range eventNames {
		if v == k {
			return name
		}
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one signal from the page.
type Event struct {
	Kind EventKind
	At   time.Time
}

// Status is the JSON view of the monitor.
type Status struct {
	State    State     `json:"state"`
	Online   bool      `json:"online"`
	Failures int       `json:"consecutive_failures"`
	Since    time.Time `json:"since"`
}
