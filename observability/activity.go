package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sunterra/fieldrecord/dbopen"
	"github.com/sunterra/fieldrecord/idgen"
)

// Schema is the DDL of the activity log.
const Schema = `
CREATE TABLE IF NOT EXISTS activity_events (
    event_id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    form TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    details TEXT NOT NULL DEFAULT '{}',
    success INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activity_created ON activity_events(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_activity_type ON activity_events(event_type, created_at DESC);
`

// Event types recorded by the station.
const (
	FormSubmitted       = "form_submitted"
	DraftCleared        = "draft_cleared"
	ExportGenerated     = "export_generated"
	ExportFailed        = "export_failed"
	ConnectivityChanged = "connectivity_changed"
)

// Event is one activity log row.
type Event struct {
	ID      string    `db:"event_id" json:"id"`
	Type    string    `db:"event_type" json:"type"`
	Form    string    `db:"form" json:"form,omitempty"`
	Subject string    `db:"subject" json:"subject,omitempty"`
	Details string    `db:"details" json:"details,omitempty"`
	Success bool      `db:"success" json:"success"`
	At      time.Time `db:"-" json:"at"`

	CreatedAt int64 `db:"created_at" json:"-"`
}

// ActivityLog persists events asynchronously in batches.
type ActivityLog struct {
	db     *sqlx.DB
	newID  idgen.Generator
	logger *slog.Logger
	now    func() time.Time

	ch       chan Event
	flushReq chan chan struct{}
	stop     chan struct{}
	done     chan struct{}
}

// ActivityOption configures an ActivityLog.
type ActivityOption func(*ActivityLog)

// WithActivityLogger sets the logger used to report write failures.
func WithActivityLogger(l *slog.Logger) ActivityOption {
	return func(a *ActivityLog) { a.logger = l }
}

// WithActivityClock sets the event timestamp source.
func WithActivityClock(now func() time.Time) ActivityOption {
	return func(a *ActivityLog) { a.now = now }
}

// NewActivityLog applies Schema to db and starts the flush goroutine.
// bufferSize <= 0 means 256.
func NewActivityLog(db *sqlx.DB, bufferSize int, opts ...ActivityOption) (*ActivityLog, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("observability: init schema: %w", err)
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	a := &ActivityLog{
		db:       db,
		newID:    idgen.Event,
		logger:   slog.Default(),
		now:      time.Now,
		ch:       make(chan Event, bufferSize),
		flushReq: make(chan chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	go a.flushLoop()
	return a, nil
}

// Details marshals v for Event.Details, "{}" when it cannot.
func Details(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Record queues an event. It never blocks: when the buffer is full the
// event is written synchronously, and write errors are only logged.
func (a *ActivityLog) Record(e Event) {
	if a == nil {
		return
	}
	a.fill(&e)
	select {
	case a.ch <- e:
	default:
		a.logger.Warn("observability: activity buffer full, sync fallback", "event_type", e.Type)
		if err := a.insert(context.Background(), []Event{e}); err != nil {
			a.logger.Error("observability: activity sync fallback failed", "error", err)
		}
	}
}

func (a *ActivityLog) fill(e *Event) {
	if e.ID == "" {
		e.ID = a.newID()
	}
	if e.At.IsZero() {
		e.At = a.now()
	}
	if e.Details == "" {
		e.Details = "{}"
	}
	e.CreatedAt = e.At.UnixMilli()
}

// Recent returns up to limit events, newest first. An empty eventType
// matches all.
func (a *ActivityLog) Recent(ctx context.Context, eventType string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT event_id, event_type, form, subject, details, success, created_at
		FROM activity_events WHERE (? = '' OR event_type = ?)
		ORDER BY created_at DESC, event_id DESC LIMIT ?`
	var out []Event
	if err := a.db.SelectContext(ctx, &out, q, eventType, eventType, limit); err != nil {
		return nil, fmt.Errorf("observability: recent: %w", err)
	}
	for i := range out {
		out[i].At = time.UnixMilli(out[i].CreatedAt)
	}
	return out, nil
}

// Cleanup deletes events older than retention.
func (a *ActivityLog) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := a.now().Add(-retention).UnixMilli()
	res, err := a.db.ExecContext(ctx, "DELETE FROM activity_events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close drains the buffer and stops the flush goroutine.
func (a *ActivityLog) Close() error {
	close(a.stop)
	<-a.done
	return nil
}

// Flush writes everything queued so far.
func (a *ActivityLog) Flush() {
	ack := make(chan struct{})
	select {
	case a.flushReq <- ack:
		<-ack
	case <-a.done:
	}
}

func (a *ActivityLog) flushLoop() {
	defer close(a.done)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	batch := make([]Event, 0, 64)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.insert(ctx, batch); err != nil {
			a.logger.Error("observability: activity flush failed", "error", err, "events", len(batch))
		}
		batch = batch[:0]
	}
	drain := func() {
		for {
			select {
			case e := <-a.ch:
				batch = append(batch, e)
			default:
				flush()
				return
			}
		}
	}

	for {
		select {
		case <-a.stop:
			drain()
			return
		case ack := <-a.flushReq:
			drain()
			close(ack)
		case e := <-a.ch:
			batch = append(batch, e)
			if len(batch) >= 64 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (a *ActivityLog) insert(ctx context.Context, events []Event) error {
	return dbopen.RunTx(ctx, a.db, func(tx *sqlx.Tx) error {
		for _, e := range events {
			_, err := tx.NamedExecContext(ctx, `INSERT INTO activity_events
				(event_id, event_type, form, subject, details, success, created_at)
				VALUES (:event_id, :event_type, :form, :subject, :details, :success, :created_at)`, e)
			if err != nil {
				return fmt.Errorf("insert %s: %w", e.ID, err)
			}
		}
		return nil
	})
}
