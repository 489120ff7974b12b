// Package idgen generates the identifiers the station hands out: work
// items, capture jobs, activity events and request traces.
package idgen

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 v7 UUIDs. Time-sortable.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Short returns a Generator of base-36 IDs of the given length, for ids
// that end up in URLs and form payloads.
func Short(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// Prefixed prepends a type prefix ("wi_", "cap_", ...) to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

var (
	// WorkItem ids variation-order work items.
	WorkItem = Prefixed("wi_", Short(12))
	// Capture ids one export job.
	Capture = Prefixed("cap_", UUIDv7())
	// Event ids activity log rows.
	Event = Prefixed("evt_", UUIDv7())
	// Trace ids one HTTP request.
	Trace = Prefixed("trc_", Short(16))
)
