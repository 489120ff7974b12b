// Package browser owns the headless Chrome used to rasterise printable
// forms: lazy launch with retry, page creation, and relaunch after a crash.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// ErrClosed is returned once the manager has been closed.
var ErrClosed = errors.New("browser: manager is closed")

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Bin overrides the Chrome binary. Empty = launcher lookup/download.
	Bin string

	// Headful shows the browser window. Debug only.
	Headful bool

	// LaunchRetries bounds launch attempts after the first. Default: 3.
	LaunchRetries uint64

	// PageTimeout bounds opening a page. Default: 15s.
	PageTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.LaunchRetries == 0 {
		c.LaunchRetries = 3
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Connector launches or attaches to a browser and returns its control URL.
type Connector func(ctx context.Context) (controlURL string, cleanup func(), err error)

// Manager manages Chrome lifecycle. Chrome is started on first use.
type Manager struct {
	cfg     Config
	connect Connector
	policy  func() backoff.BackOff

	mu      sync.Mutex
	browser *rod.Browser
	cleanup func()
	startAt time.Time
	closed  bool
}

// NewManager creates a browser Manager.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	m := &Manager{cfg: cfg, policy: func() backoff.BackOff { return backoff.NewExponentialBackOff() }}
	m.connect = m.launchLocal
	if cfg.RemoteURL != "" {
		m.connect = func(context.Context) (string, func(), error) {
			return cfg.RemoteURL, func() {}, nil
		}
	}
	return m
}

// Start launches Chrome (or connects to the remote instance) if it is not
// already running. Launch failures are retried with exponential backoff.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(ctx)
}

func (m *Manager) startLocked(ctx context.Context) (*rod.Browser, error) {
	if m.closed {
		return nil, ErrClosed
	}
	if m.browser != nil {
		return m.browser, nil
	}

	log := m.cfg.Logger
	attempt := 0
	op := func() error {
		attempt++
		b, cleanup, err := m.launch(ctx)
		if err != nil {
			log.Warn("browser: launch attempt failed", "attempt", attempt, "error", err)
			return err
		}
		m.browser, m.cleanup = b, cleanup
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(m.policy(), m.cfg.LaunchRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("browser: start after %d attempts: %w", attempt, err)
	}
	m.startAt = time.Now()
	log.Info("browser: ready", "remote", m.cfg.RemoteURL != "", "attempts", attempt)
	return m.browser, nil
}

func (m *Manager) launch(ctx context.Context) (*rod.Browser, func(), error) {
	u, cleanup, err := m.connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		cleanup()
		return nil, nil, err
	}
	// Not bound to ctx: the browser outlives the request that started it.
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	return b, cleanup, nil
}

func (m *Manager) launchLocal(context.Context) (string, func(), error) {
	l := launcher.New().Headless(!m.cfg.Headful)
	if m.cfg.Bin != "" {
		l = l.Bin(m.cfg.Bin)
	}
	u, err := l.Launch()
	if err != nil {
		return "", nil, fmt.Errorf("launch: %w", err)
	}
	m.cfg.Logger.Info("browser: launched local chrome", "url", u)
	return u, l.Cleanup, nil
}

// Page opens a blank page. If the browser has died since the last call it
// is relaunched once.
func (m *Manager) Page(ctx context.Context) (*rod.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.startLocked(ctx)
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, m.cfg.PageTimeout)
	defer cancel()

	page, err := b.Context(pctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err == nil {
		return page.Context(ctx), nil
	}

	m.cfg.Logger.Warn("browser: page failed, relaunching", "error", err, "uptime", time.Since(m.startAt))
	m.stopLocked()
	if b, err = m.startLocked(ctx); err != nil {
		return nil, err
	}
	page, err = b.Context(pctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("browser: open page: %w", err)
	}
	return page.Context(ctx), nil
}

// Running reports whether a browser is currently connected.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browser != nil
}

// Close shuts down Chrome. Further calls to Start and Page fail.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.stopLocked()
	return nil
}

func (m *Manager) stopLocked() {
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.cfg.Logger.Debug("browser: close", "error", err)
		}
		m.browser = nil
	}
	if m.cleanup != nil {
		m.cleanup()
		m.cleanup = nil
	}
}
