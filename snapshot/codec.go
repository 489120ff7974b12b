package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DatePrefix marks a string as an encoded Date. Callers must not store
// plain strings starting with it.
const DatePrefix = "__DATE__"

// isoLayout matches the millisecond UTC form browsers emit for dates.
const isoLayout = "2006-01-02T15:04:05.000Z"

// ErrCorruptDraft is returned when stored text cannot be decoded into a
// Snapshot.
var ErrCorruptDraft = errors.New("snapshot: corrupt draft")

// Codec converts Snapshots to and from JSON text.
//
// A Date is written as DatePrefix followed by the UTC instant of its
// midnight in Location, so drafts written by a device in one zone decode to
// the same calendar day on that device.
type Codec struct {
	Location *time.Location
}

// DefaultCodec uses the process local time zone.
var DefaultCodec = Codec{Location: time.Local}

// Encode serialises s with DefaultCodec.
func Encode(s Snapshot) ([]byte, error) { return DefaultCodec.Encode(s) }

// Decode parses data with DefaultCodec.
func Decode(data []byte) (Snapshot, error) { return DefaultCodec.Decode(data) }

func (c Codec) loc() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

// Encode serialises s. Key order in the output is sorted.
func (c Codec) Encode(s Snapshot) ([]byte, error) {
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = c.EncodeValue(v)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	return data, nil
}

// EncodeValue returns the JSON-ready form of a single value.
func (c Codec) EncodeValue(v Value) any {
	switch x := v.(type) {
	case Date:
		return c.tagDate(x)
	case *Date:
		if x == nil {
			return nil
		}
		return c.tagDate(*x)
	case time.Time:
		return c.tagDate(DateOf(x.In(c.loc())))
	}
	return v
}

func (c Codec) tagDate(d Date) string {
	return DatePrefix + d.In(c.loc()).UTC().Format(isoLayout)
}

// Decode parses data into a Snapshot. Any malformed input, including a
// top-level value that is not an object, yields an error wrapping
// ErrCorruptDraft.
func (c Codec) Decode(data []byte) (Snapshot, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDraft, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: not an object", ErrCorruptDraft)
	}
	out := make(Snapshot, len(raw))
	for k, v := range raw {
		dv, err := c.DecodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrCorruptDraft, k, err)
		}
		out[k] = dv
	}
	return out, nil
}

// DecodeValue converts one JSON-decoded value back to its Snapshot kind.
// Tagged strings become Dates; arrays made only of strings become []string.
func (c Codec) DecodeValue(v any) (Value, error) {
	switch x := v.(type) {
	case string:
		if !strings.HasPrefix(x, DatePrefix) {
			return x, nil
		}
		return c.parseTagged(strings.TrimPrefix(x, DatePrefix))
	case []any:
		ss := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return x, nil
			}
			ss = append(ss, s)
		}
		return ss, nil
	}
	return v, nil
}

func (c Codec) parseTagged(s string) (Date, error) {
	if len(s) == len(time.DateOnly) {
		return ParseDate(s)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Date{}, fmt.Errorf("bad tagged date %q: %w", s, err)
	}
	return DateOf(t.In(c.loc())), nil
}
