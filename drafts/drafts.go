// Package drafts persists the single in-progress draft of each form under a
// fixed key. A save fully replaces the previous draft; absent and corrupt
// drafts both load as "no draft".
//
// When the durable backend fails, the store logs the failure and keeps
// working from an in-memory copy for the rest of the process.
package drafts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/sunterra/fieldrecord/kvstore"
	"github.com/sunterra/fieldrecord/snapshot"
)

// Fixed draft keys. The two forms never share a key.
const (
	InspectionKey     = "sunterra_itr_form_data"
	VariationOrderKey = "sunterra_variation_order_draft"
)

// ErrStorageUnavailable wraps backend failures returned by Save and Clear.
// The value is still held in memory when it is returned.
var ErrStorageUnavailable = errors.New("drafts: storage unavailable")

// Codec converts a draft value to and from stored bytes.
type Codec[T any] interface {
	Encode(T) ([]byte, error)
	Decode([]byte) (T, error)
}

// JSONCodec stores T as plain JSON with no temporal tagging. A draft is
// always a JSON object; anything else decodes as ErrCorruptDraft.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v T) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return v, fmt.Errorf("%w: not a JSON object", snapshot.ErrCorruptDraft)
	}
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return v, fmt.Errorf("%w: %v", snapshot.ErrCorruptDraft, err)
	}
	return v, nil
}

var _ Codec[snapshot.Snapshot] = snapshot.Codec{}

type options struct {
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*options)

// WithLogger sets the logger used for swallowed storage failures.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// Store is the draft store of one form.
type Store[T any] struct {
	key      string
	codec    Codec[T]
	backend  kvstore.Backend
	memory   *kvstore.Memory
	logger   *slog.Logger
	degraded atomic.Bool
}

// New returns a Store writing key on backend.
func New[T any](backend kvstore.Backend, key string, codec Codec[T], opts ...Option) *Store[T] {
	o := options{logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	return &Store[T]{
		key:     key,
		codec:   codec,
		backend: backend,
		memory:  kvstore.NewMemory(),
		logger:  o.logger.With("draft_key", key),
	}
}

// NewInspection returns the inspection-and-test-record draft store.
func NewInspection(backend kvstore.Backend, codec snapshot.Codec, opts ...Option) *Store[snapshot.Snapshot] {
	return New[snapshot.Snapshot](backend, InspectionKey, codec, opts...)
}

// Key returns the fixed key of the store.
func (s *Store[T]) Key() string { return s.key }

// Degraded reports whether the store has fallen back to memory.
func (s *Store[T]) Degraded() bool { return s.degraded.Load() }

func (s *Store[T]) active() kvstore.Backend {
	if s.degraded.Load() {
		return s.memory
	}
	return s.backend
}

func (s *Store[T]) degrade(op string, err error) {
	if s.degraded.CompareAndSwap(false, true) {
		s.logger.Warn("drafts: storage unavailable, continuing in memory", "op", op, "error", err)
	}
}

// Save replaces the stored draft with v.
func (s *Store[T]) Save(ctx context.Context, v T) error {
	data, err := s.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("drafts: encode %s: %w", s.key, err)
	}
	b := s.active()
	if err := b.Put(ctx, s.key, data); err != nil {
		s.degrade("save", err)
		s.memory.Put(ctx, s.key, data)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Load returns the stored draft, or false when there is none or it cannot
// be decoded.
func (s *Store[T]) Load(ctx context.Context) (T, bool) {
	var zero T
	data, err := s.active().Get(ctx, s.key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return zero, false
	}
	if err != nil {
		s.degrade("load", err)
		if data, err = s.memory.Get(ctx, s.key); err != nil {
			return zero, false
		}
	}
	v, err := s.codec.Decode(data)
	if err != nil {
		s.logger.Warn("drafts: ignoring corrupt draft", "error", err)
		return zero, false
	}
	return v, true
}

// Clear removes the stored draft.
func (s *Store[T]) Clear(ctx context.Context) error {
	s.memory.Delete(ctx, s.key)
	if s.degraded.Load() {
		return nil
	}
	if err := s.backend.Delete(ctx, s.key); err != nil {
		s.degrade("clear", err)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}
