// Package snapshot holds the open key/value model of a form's state and the
// codec that persists it as JSON text without losing the identity of
// calendar dates.
//
// A Snapshot value is one of: string, bool, []string or Date. Keys are
// opaque to this package; the form session decides what they mean.
package snapshot

import "slices"

// Value is a single field value. See the package doc for allowed kinds.
type Value = any

// Snapshot maps field identifiers to their current values.
type Snapshot map[string]Value

// Clone returns a copy of s. String slices are copied so the clone can be
// mutated independently.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		if ss, ok := v.([]string); ok {
			v = slices.Clone(ss)
		}
		out[k] = v
	}
	return out
}

// Merge folds parts into a new Snapshot. Later parts win on key collisions.
func Merge(parts ...Snapshot) Snapshot {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make(Snapshot, n)
	for _, p := range parts {
		for k, v := range p {
			out[k] = v
		}
	}
	return out
}

// String returns the string value of key, or "" when absent or not a string.
func (s Snapshot) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// Bool returns the bool value of key.
func (s Snapshot) Bool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

// Strings returns the string-list value of key.
func (s Snapshot) Strings(key string) []string {
	v, _ := s[key].([]string)
	return v
}

// Date returns the date value of key and whether one was present.
func (s Snapshot) Date(key string) (Date, bool) {
	v, ok := s[key].(Date)
	return v, ok
}

// Keys returns the keys of s in sorted order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
