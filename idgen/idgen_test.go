package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestShort_LengthAndAlphabet(t *testing.T) {
	for _, length := range []int{8, 12, 16} {
		id := Short(length)()
		if len(id) != length {
			t.Fatalf("Short(%d): got length %d", length, len(id))
		}
		for _, c := range id {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')) {
				t.Fatalf("Short: unexpected character %q in %q", c, id)
			}
		}
	}
}

func TestWorkItem_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := WorkItem()
		if !strings.HasPrefix(id, "wi_") || len(id) != 15 {
			t.Fatalf("WorkItem: bad id %q", id)
		}
		if _, ok := seen[id]; ok {
			t.Fatalf("WorkItem: duplicate at iteration %d: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7()()
	if len(id) != 36 || len(strings.Split(id, "-")) != 5 {
		t.Fatalf("UUIDv7: bad format %q", id)
	}
}

func TestPrefixedUUIDs(t *testing.T) {
	for prefix, gen := range map[string]Generator{"evt_": Event, "cap_": Capture} {
		id := gen()
		rest, ok := strings.CutPrefix(id, prefix)
		if !ok {
			t.Fatalf("%q lacks prefix %q", id, prefix)
		}
		u, err := uuid.Parse(rest)
		if err != nil {
			t.Fatalf("%q: %v", id, err)
		}
		if u.Version() != 7 {
			t.Fatalf("%q: version %d, want 7", id, u.Version())
		}
	}
	if Capture() == Capture() {
		t.Fatal("Capture: duplicate ids")
	}
}
