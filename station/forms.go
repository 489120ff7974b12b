package station

import (
	"context"
	"fmt"

	"github.com/sunterra/fieldrecord/autosave"
	"github.com/sunterra/fieldrecord/kvstore"
	"github.com/sunterra/fieldrecord/observability"
)

// SubmitResult reports a successful submit. Saved is false when the draft
// could only be kept in memory.
type SubmitResult struct {
	Form  string         `json:"form"`
	Saved bool           `json:"saved"`
	Event autosave.Saved `json:"event,omitzero"`
}

// Submit validates the form and, when complete, writes the draft at once.
func (s *Service) Submit(ctx context.Context, form string) (SubmitResult, error) {
	var (
		validate func() error
		flush    func(context.Context) (autosave.Saved, error)
		subject  string
	)
	switch form {
	case FormITR:
		validate, flush, subject = s.itr.session.Validate, s.itr.auto.Flush, s.itr.session.Job()
	case FormVO:
		validate, flush, subject = s.vo.session.Validate, s.vo.auto.Flush, s.vo.session.Record().JobNumber
	default:
		return SubmitResult{}, fmt.Errorf("station: unknown form %q", form)
	}
	if err := validate(); err != nil {
		return SubmitResult{}, err
	}

	res := SubmitResult{Form: form}
	ev, err := flush(ctx)
	if err != nil {
		s.logger.Warn("station: submit save failed", "form", form, "error", err)
	} else {
		res.Saved, res.Event = true, ev
	}
	s.cfg.Activity.Record(observability.Event{
		Type:    observability.FormSubmitted,
		Form:    form,
		Subject: subject,
		Success: res.Saved,
	})
	return res, nil
}

// Clear wipes the stored draft and returns the live session to its
// defaults. A pending autosave window is dropped and an in-flight write
// completes before the wipe.
func (s *Service) Clear(ctx context.Context, form string) error {
	var err error
	switch form {
	case FormITR:
		err = s.itr.auto.Discard(func() error {
			s.itr.session.Reset()
			return s.itr.store.Clear(ctx)
		})
	case FormVO:
		err = s.vo.auto.Discard(func() error {
			s.vo.session.Reset()
			return s.vo.store.Clear(ctx)
		})
	default:
		return fmt.Errorf("station: unknown form %q", form)
	}
	if err != nil {
		s.logger.Warn("station: clear draft", "form", form, "error", err)
	}
	s.cfg.Activity.Record(observability.Event{
		Type:    observability.DraftCleared,
		Form:    form,
		Success: err == nil,
	})
	return nil
}

// DraftInfo describes one form's draft storage.
type DraftInfo struct {
	Form      string          `json:"form"`
	Key       string          `json:"key"`
	Stored    *kvstore.Entry  `json:"stored,omitempty"`
	Degraded  bool            `json:"degraded"`
	Pending   bool            `json:"pending"`
	LastSaved *autosave.Saved `json:"last_saved,omitempty"`
}

// Drafts lists both forms' drafts as the backend holds them.
func (s *Service) Drafts(ctx context.Context) ([]DraftInfo, error) {
	entries, err := s.cfg.Backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("station: list drafts: %w", err)
	}
	stored := make(map[string]kvstore.Entry, len(entries))
	for _, e := range entries {
		stored[e.Key] = e
	}

	info := func(form, key string, degraded, pending bool, last autosave.Saved, ok bool) DraftInfo {
		d := DraftInfo{Form: form, Key: key, Degraded: degraded, Pending: pending}
		if e, found := stored[key]; found {
			d.Stored = &e
		}
		if ok {
			d.LastSaved = &last
		}
		return d
	}
	itrLast, itrOK := s.itr.auto.LastSaved()
	voLast, voOK := s.vo.auto.LastSaved()
	return []DraftInfo{
		info(FormITR, s.itr.store.Key(), s.itr.store.Degraded(), s.itr.auto.Pending(), itrLast, itrOK),
		info(FormVO, s.vo.store.Key(), s.vo.store.Degraded(), s.vo.auto.Pending(), voLast, voOK),
	}, nil
}
