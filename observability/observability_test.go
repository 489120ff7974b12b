package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/sunterra/fieldrecord/dbopen"

	_ "modernc.org/sqlite"
)

func setupActivity(t *testing.T, opts ...ActivityOption) *ActivityLog {
	t.Helper()
	db := dbopen.OpenMemory(t)
	opts = append([]ActivityOption{WithActivityLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	a, err := NewActivityLog(db, 8, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger("warn", "json", &buf)
	if err != nil {
		t.Fatal(err)
	}
	log.Info("hidden")
	log.Warn("shown", "k", "v")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["msg"] != "shown" || rec["k"] != "v" {
		t.Errorf("record = %v", rec)
	}

	if _, err := NewLogger("loud", "json", &buf); err == nil {
		t.Error("expected level error")
	}
	if _, err := NewLogger("info", "xml", &buf); err == nil {
		t.Error("expected format error")
	}
}

func TestActivityLog_RecordAndRecent(t *testing.T) {
	base := time.Date(2025, 9, 26, 10, 0, 0, 0, time.UTC)
	a := setupActivity(t)

	a.Record(Event{Type: FormSubmitted, Form: "itr", Subject: "J-1", At: base})
	a.Record(Event{Type: ExportFailed, Form: "itr", Subject: "J-1", Success: false, At: base.Add(time.Second),
		Details: Details(map[string]string{"stage": "rasterize"})})
	a.Record(Event{Type: ExportGenerated, Form: "vo", Subject: "J-2", Success: true, At: base.Add(2 * time.Second)})
	a.Flush()

	all, err := a.Recent(context.Background(), "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d events, want 3", len(all))
	}
	if all[0].Type != ExportGenerated || !all[0].Success || !all[0].At.Equal(base.Add(2*time.Second)) {
		t.Errorf("newest = %+v", all[0])
	}
	if !strings.HasPrefix(all[0].ID, "evt_") {
		t.Errorf("id = %q", all[0].ID)
	}
	if all[1].Details != `{"stage":"rasterize"}` {
		t.Errorf("details = %q", all[1].Details)
	}
	if all[2].Details != "{}" {
		t.Errorf("default details = %q", all[2].Details)
	}

	failed, err := a.Recent(context.Background(), ExportFailed, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].Subject != "J-1" {
		t.Errorf("filtered = %+v", failed)
	}
}

func TestActivityLog_BufferFullFallsBackToSync(t *testing.T) {
	a := setupActivity(t)
	for i := 0; i < 100; i++ {
		a.Record(Event{Type: ConnectivityChanged})
	}
	a.Flush()
	got, err := a.Recent(context.Background(), ConnectivityChanged, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 100 {
		t.Errorf("persisted %d of 100 events", len(got))
	}
}

func TestActivityLog_Cleanup(t *testing.T) {
	now := time.Date(2025, 9, 26, 0, 0, 0, 0, time.UTC)
	a := setupActivity(t, WithActivityClock(func() time.Time { return now }))

	a.Record(Event{Type: DraftCleared, At: now.Add(-40 * 24 * time.Hour)})
	a.Record(Event{Type: DraftCleared})
	a.Flush()

	n, err := a.Cleanup(context.Background(), 30*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
}

func TestActivityLog_NilIsNoop(t *testing.T) {
	var a *ActivityLog
	a.Record(Event{Type: FormSubmitted})
}
