package browser

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/cenkalti/backoff"
)

func testManager(connect Connector) *Manager {
	m := NewManager(Config{LaunchRetries: 2, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	m.connect = connect
	m.policy = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return m
}

func TestStart_RetriesThenFails(t *testing.T) {
	calls := 0
	boom := errors.New("no chrome")
	m := testManager(func(context.Context) (string, func(), error) {
		calls++
		return "", nil, boom
	})

	_, err := m.Start(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Start = %v, want %v", err, boom)
	}
	if calls != 3 {
		t.Errorf("attempts = %d, want 3", calls)
	}
	if m.Running() {
		t.Error("Running after failed start")
	}
}

func TestStart_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cleaned := false
	m := testManager(func(context.Context) (string, func(), error) {
		return "ws://127.0.0.1:1/devtools", func() { cleaned = true }, nil
	})

	if _, err := m.Start(ctx); err == nil {
		t.Fatal("expected error on cancelled context")
	}
	if !cleaned {
		t.Error("launcher not cleaned up")
	}
}

func TestClosed(t *testing.T) {
	m := testManager(func(context.Context) (string, func(), error) {
		t.Fatal("connect called after Close")
		return "", nil, nil
	})
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start = %v, want ErrClosed", err)
	}
	if _, err := m.Page(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Page = %v, want ErrClosed", err)
	}
}
