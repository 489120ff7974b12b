// Package capture rasterises the printable form into a paginated PDF or a
// single PNG.
//
// Every capture temporarily forces the surface to a fixed page width so
// output does not depend on the device's viewport, then restores the
// original layout on every exit path, failure and cancellation included.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"sync"
	"time"

	"github.com/sunterra/fieldrecord/clock"
)

// ErrBusy is returned when a capture is already running on the pipeline.
var ErrBusy = errors.New("capture: another capture is in progress")

// CaptureError reports which stage of a capture failed.
type CaptureError struct {
	Stage string
	Err   error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture: %s: %v", e.Stage, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Layout is an opaque saved layout (the inline style of the surface root).
type Layout string

// Surface is the rendered form a capture rasterises.
type Surface interface {
	Layout(ctx context.Context) (Layout, error)
	FixWidth(ctx context.Context, px int) error
	Restore(ctx context.Context, l Layout) error
	// Height is the full content height at the current width, in CSS px.
	Height(ctx context.Context) (int, error)
	// Rasterize renders width×height CSS px at scale device px per CSS px.
	Rasterize(ctx context.Context, width, height int, scale float64) (image.Image, error)
}

// Config tunes a Pipeline.
type Config struct {
	// PageWidth is the fixed logical width during capture. Default: 794
	// (A4 at 96 dpi).
	PageWidth int
	// SettleDelay lets layout settle after the width change. Default: 200ms.
	SettleDelay time.Duration
	Scale       ScalePolicy
	Page        PageSize
	// RestoreTimeout bounds the layout restore once the capture context
	// is gone. Default: 5s.
	RestoreTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.PageWidth <= 0 {
		c.PageWidth = 794
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	} else if c.SettleDelay == 0 {
		c.SettleDelay = 200 * time.Millisecond
	}
	c.Scale = c.Scale.normalised()
	if c.Page.Name == "" {
		c.Page = A4
	}
	if c.RestoreTimeout <= 0 {
		c.RestoreTimeout = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Request describes one capture.
type Request struct {
	Platform Platform
	// Name is the artifact file name, extension included.
	Name string
}

// Artifact is a generated file.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
	// Inline asks the caller to show the artifact in a fresh viewing
	// context instead of downloading it.
	Inline bool
	Pages  int
	Scale  float64
}

// Pipeline runs captures one at a time.
type Pipeline struct {
	cfg  Config
	busy sync.Mutex
}

// New returns a Pipeline.
func New(cfg Config) *Pipeline {
	cfg.defaults()
	return &Pipeline{cfg: cfg}
}

// CaptureDocument produces an A4 portrait PDF of the surface.
func (p *Pipeline) CaptureDocument(ctx context.Context, s Surface, req Request) (*Artifact, error) {
	if !p.busy.TryLock() {
		return nil, ErrBusy
	}
	defer p.busy.Unlock()

	bitmap, scale, err := p.rasterize(ctx, s, req.Platform)
	if err != nil {
		return nil, err
	}

	b := bitmap.Bounds()
	pageHeight := p.cfg.Page.PageHeightPx(b.Dx())
	bands := Paginate(b.Dy(), pageHeight)
	pages, err := composePages(bitmap, bands, pageHeight)
	if err != nil {
		return nil, &CaptureError{Stage: "paginate", Err: err}
	}
	data, err := assemblePDF(pages, p.cfg.Page)
	if err != nil {
		return nil, &CaptureError{Stage: "pdf", Err: err}
	}

	p.cfg.Logger.Info("capture: document generated",
		"name", req.Name, "pages", len(bands), "scale", scale, "bytes", len(data))
	return &Artifact{
		Name:        req.Name,
		ContentType: "application/pdf",
		Data:        data,
		Pages:       len(bands),
		Scale:       scale,
	}, nil
}

// CaptureImage produces a single PNG of the surface. Platforms flagged
// InlineImage get an inline artifact.
func (p *Pipeline) CaptureImage(ctx context.Context, s Surface, req Request) (*Artifact, error) {
	if !p.busy.TryLock() {
		return nil, ErrBusy
	}
	defer p.busy.Unlock()

	bitmap, scale, err := p.rasterize(ctx, s, req.Platform)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, bitmap); err != nil {
		return nil, &CaptureError{Stage: "encode", Err: err}
	}

	p.cfg.Logger.Info("capture: image generated",
		"name", req.Name, "scale", scale, "inline", req.Platform.InlineImage, "bytes", buf.Len())
	return &Artifact{
		Name:        req.Name,
		ContentType: "image/png",
		Data:        buf.Bytes(),
		Inline:      req.Platform.InlineImage,
		Pages:       1,
		Scale:       scale,
	}, nil
}

// rasterize forces the page width, waits for layout, and renders the
// surface at the safe scale. The original layout is restored before it
// returns, whatever the outcome.
func (p *Pipeline) rasterize(ctx context.Context, s Surface, platform Platform) (img image.Image, scale float64, err error) {
	orig, err := s.Layout(ctx)
	if err != nil {
		return nil, 0, &CaptureError{Stage: "layout", Err: err}
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.RestoreTimeout)
		defer cancel()
		if rerr := s.Restore(rctx, orig); rerr != nil {
			p.cfg.Logger.Error("capture: restore layout failed", "error", rerr)
			if err == nil {
				img, err = nil, &CaptureError{Stage: "restore", Err: rerr}
			}
		}
	}()

	if err := s.FixWidth(ctx, p.cfg.PageWidth); err != nil {
		return nil, 0, &CaptureError{Stage: "layout", Err: err}
	}
	if err := p.settle(ctx); err != nil {
		return nil, 0, &CaptureError{Stage: "settle", Err: err}
	}

	height, err := s.Height(ctx)
	if err != nil {
		return nil, 0, &CaptureError{Stage: "measure", Err: err}
	}
	if height <= 0 {
		return nil, 0, &CaptureError{Stage: "measure", Err: errors.New("surface has no content")}
	}

	scale = p.cfg.Scale.For(p.cfg.PageWidth, height, platform.PixelCeiling)
	img, err = s.Rasterize(ctx, p.cfg.PageWidth, height, scale)
	if err != nil {
		return nil, 0, &CaptureError{Stage: "rasterize", Err: err}
	}
	if img.Bounds().Empty() {
		return nil, 0, &CaptureError{Stage: "rasterize", Err: errors.New("empty bitmap")}
	}
	return img, scale, nil
}

func (p *Pipeline) settle(ctx context.Context) error {
	if p.cfg.SettleDelay <= 0 {
		return nil
	}
	done := make(chan struct{})
	t := p.cfg.Clock.AfterFunc(p.cfg.SettleDelay, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}
