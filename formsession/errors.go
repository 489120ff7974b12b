package formsession

import (
	"errors"
	"strings"
)

var (
	// ErrInvalid is wrapped by every ValidationError.
	ErrInvalid = errors.New("formsession: record incomplete")
	// ErrLastItem is returned when deleting the only work item.
	ErrLastItem = errors.New("formsession: cannot delete the last work item")
	// ErrNoItem is returned for an unknown work item id.
	ErrNoItem = errors.New("formsession: no such work item")
	// ErrReadOnly is returned when writing a fixed test-row value.
	ErrReadOnly = errors.New("formsession: field is read-only")
	// ErrBadField is returned for keys or values the form does not accept.
	ErrBadField = errors.New("formsession: invalid field")
)

// ValidationError blocks a submit. Missing holds the labels of empty
// required fields; Reason is set for rules that are not about one field.
type ValidationError struct {
	Missing []string
	Reason  string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return "Please fill in: " + strings.Join(e.Missing, ", ")
	}
	return e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }
