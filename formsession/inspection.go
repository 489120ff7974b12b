// Package formsession holds the live state of the two forms a technician
// fills in on site: the inspection and test record and the variation
// order. Sessions validate input, feed the autosave coordinator and build
// the printable document.
package formsession

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync"

	"github.com/sunterra/fieldrecord/snapshot"
)

const (
	// SignatureKey holds the sign-off signature as a data URI.
	SignatureKey = "signoff_signature"
	// TestResultPrefix starts every test results table key.
	TestResultPrefix = "testResult_"
)

// ChangeFunc is called after every user edit. immediate asks the caller to
// persist now instead of waiting for the debounce window.
type ChangeFunc func(immediate bool)

type options struct {
	codec snapshot.Codec
}

// Option configures a session.
type Option func(*options)

// WithCodec sets the codec used to read tagged dates in patches. Default:
// snapshot.DefaultCodec.
func WithCodec(c snapshot.Codec) Option { return func(o *options) { o.codec = c } }

func buildOptions(opts []Option) options {
	o := options{codec: snapshot.DefaultCodec}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Inspection is a live inspection and test record. The generic fields,
// the test results table and the signature are kept apart so each can be
// gathered independently at save time.
type Inspection struct {
	codec snapshot.Codec

	mu        sync.Mutex
	fields    snapshot.Snapshot
	tests     map[string]string
	signature string
	onChange  ChangeFunc
}

// NewInspection returns a session holding the default values.
func NewInspection(opts ...Option) *Inspection {
	o := buildOptions(opts)
	s := &Inspection{codec: o.codec}
	s.resetLocked()
	return s
}

func defaultFields() snapshot.Snapshot {
	return snapshot.Snapshot{"signoff_companyName": "Sunterra"}
}

func defaultTests() map[string]string {
	d := make(map[string]string)
	for i, row := range TestRows {
		if row.FixedInsulation != "" {
			d[testKey(i, "insulation")] = row.FixedInsulation
		}
	}
	return d
}

func testKey(row int, attr string) string {
	return TestResultPrefix + strconv.Itoa(row) + "_" + attr
}

func parseTestKey(key string) (row int, attr string, ok bool) {
	rest, found := strings.CutPrefix(key, TestResultPrefix)
	if !found {
		return 0, "", false
	}
	idx, attr, found := strings.Cut(rest, "_")
	if !found {
		return 0, "", false
	}
	row, err := strconv.Atoi(idx)
	if err != nil {
		return 0, "", false
	}
	return row, attr, true
}

func isDateKey(key string) bool {
	return strings.HasSuffix(key, "_date") || key == "equipment_calExpiry"
}

// OnChange registers the edit hook. Restore and Reset do not call it.
func (s *Inspection) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Inspection) changed() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(false)
	}
}

// Set assigns one field. Test-row and signature keys are routed to their
// own stores.
func (s *Inspection) Set(key string, v snapshot.Value) error {
	return s.SetFields(map[string]any{key: v})
}

// SetFields applies a patch of JSON-decoded values atomically: either every
// key is accepted or none is. A nil value removes the field. Date fields
// accept 2006-01-02 or the tagged form.
func (s *Inspection) SetFields(patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}
	fields := make(snapshot.Snapshot, len(patch))
	tests := make(map[string]string)
	var sig *string
	for k, v := range patch {
		if k == "" {
			return fmt.Errorf("%w: empty key", ErrBadField)
		}
		if row, attr, ok := parseTestKey(k); ok {
			str, _ := v.(string)
			if err := checkTestValue(row, attr, str); err != nil {
				return err
			}
			tests[k] = str
			continue
		} else if strings.HasPrefix(k, TestResultPrefix) {
			return fmt.Errorf("%w: %q", ErrBadField, k)
		}
		if k == SignatureKey {
			str, ok := v.(string)
			if !ok && v != nil {
				return fmt.Errorf("%w: %s must be a string", ErrBadField, k)
			}
			sig = &str
			continue
		}
		dv, err := s.coerce(k, v)
		if err != nil {
			return err
		}
		fields[k] = dv
	}

	s.mu.Lock()
	for k, v := range fields {
		if v == nil {
			delete(s.fields, k)
		} else {
			s.fields[k] = v
		}
	}
	maps.Copy(s.tests, tests)
	if sig != nil {
		s.signature = *sig
	}
	s.mu.Unlock()
	s.changed()
	return nil
}

func (s *Inspection) coerce(key string, v any) (snapshot.Value, error) {
	if v == nil {
		return nil, nil
	}
	if str, ok := v.(string); ok && isDateKey(key) && !strings.HasPrefix(str, snapshot.DatePrefix) {
		if str == "" {
			return nil, nil
		}
		d, err := snapshot.ParseDate(str)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBadField, key, err)
		}
		return d, nil
	}
	dv, err := s.codec.DecodeValue(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadField, key, err)
	}
	return dv, nil
}

func checkTestValue(row int, attr, v string) error {
	if row < 0 || row >= len(TestRows) {
		return fmt.Errorf("%w: test row %d", ErrBadField, row)
	}
	switch attr {
	case "voltage", "comments":
	case "insulation":
		if fixed := TestRows[row].FixedInsulation; fixed != "" && v != fixed {
			return fmt.Errorf("%w: insulation of row %d is %s", ErrReadOnly, row, fixed)
		}
	default:
		return fmt.Errorf("%w: test attribute %q", ErrBadField, attr)
	}
	return nil
}

// SetTestResult sets one cell of the test results table.
func (s *Inspection) SetTestResult(row int, attr, v string) error {
	if err := checkTestValue(row, attr, v); err != nil {
		return err
	}
	s.mu.Lock()
	s.tests[testKey(row, attr)] = v
	s.mu.Unlock()
	s.changed()
	return nil
}

// SetSignature stores the sign-off signature. Empty clears it.
func (s *Inspection) SetSignature(dataURI string) {
	s.mu.Lock()
	s.signature = dataURI
	s.mu.Unlock()
	s.changed()
}

// ApplyToAll copies a date and/or verifier initials onto every item of a
// checklist section ("visual" or "inspect"). Zero values are skipped.
func (s *Inspection) ApplyToAll(section string, date snapshot.Date, verifiedBy string) (int, error) {
	var n int
	switch section {
	case "visual":
		n = len(VisualItems)
	case "inspect":
		n = len(InspectionItems)
	default:
		return 0, fmt.Errorf("%w: section %q", ErrBadField, section)
	}
	verifiedBy = strings.TrimSpace(verifiedBy)
	if date.IsZero() && verifiedBy == "" {
		return 0, nil
	}
	s.mu.Lock()
	for i := range n {
		if !date.IsZero() {
			s.fields[fmt.Sprintf("%s_%d_date", section, i)] = date
		}
		if verifiedBy != "" {
			s.fields[fmt.Sprintf("%s_%d_verifiedBy", section, i)] = verifiedBy
		}
	}
	s.mu.Unlock()
	s.changed()
	return n, nil
}

// Fields returns a copy of the generic field values.
func (s *Inspection) Fields() snapshot.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fields.Clone()
}

// TestResults returns the test results table as snapshot values.
func (s *Inspection) TestResults() snapshot.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(snapshot.Snapshot, len(s.tests))
	for k, v := range s.tests {
		out[k] = v
	}
	return out
}

// Signature returns the signature as a one-key snapshot.
func (s *Inspection) Signature() snapshot.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot.Snapshot{SignatureKey: s.signature}
}

// Snapshot merges the three sources into the record as saved.
func (s *Inspection) Snapshot() snapshot.Snapshot {
	return snapshot.Merge(s.Fields(), s.TestResults(), s.Signature())
}

// Restore replaces the session state with defaults overlaid by snap.
func (s *Inspection) Restore(snap snapshot.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	for k, v := range snap {
		switch {
		case strings.HasPrefix(k, TestResultPrefix):
			if str, ok := v.(string); ok {
				s.tests[k] = str
			}
		case k == SignatureKey:
			if str, ok := v.(string); ok {
				s.signature = str
			}
		default:
			s.fields[k] = v
		}
	}
}

// Reset returns the session to its default values.
func (s *Inspection) Reset() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
}

func (s *Inspection) resetLocked() {
	s.fields = defaultFields()
	s.tests = defaultTests()
	s.signature = ""
}

// Validate reports the required fields that are still empty.
func (s *Inspection) Validate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var missing []string
	for _, f := range required {
		if strings.TrimSpace(fmt.Sprint(valueOr(s.fields[f.key]))) == "" {
			missing = append(missing, f.label)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

func valueOr(v snapshot.Value) snapshot.Value {
	if v == nil {
		return ""
	}
	return v
}

// Customer is the customer name, used in artifact names.
func (s *Inspection) Customer() string { return s.field("customerName") }

// Job is the job number.
func (s *Inspection) Job() string { return s.field("jobNumber") }

func (s *Inspection) field(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.TrimSpace(s.fields.String(key))
}
