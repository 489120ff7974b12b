package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// PageSurface is a Surface backed by a headless Chrome page holding the
// rendered print layout.
type PageSurface struct {
	page *rod.Page
	root *rod.Element
}

// LoadPageSurface writes html into page and binds the surface to the
// element matched by rootSelector.
func LoadPageSurface(ctx context.Context, page *rod.Page, html []byte, rootSelector string) (*PageSurface, error) {
	p := page.Context(ctx)
	if err := p.SetDocumentContent(string(html)); err != nil {
		return nil, fmt.Errorf("capture: load document: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return nil, fmt.Errorf("capture: wait load: %w", err)
	}
	root, err := p.Element(rootSelector)
	if err != nil {
		return nil, fmt.Errorf("capture: find %s: %w", rootSelector, err)
	}
	return &PageSurface{page: page, root: root}, nil
}

func (s *PageSurface) Layout(ctx context.Context) (Layout, error) {
	res, err := s.root.Context(ctx).Eval(`() => this.getAttribute('style') || ''`)
	if err != nil {
		return "", err
	}
	return Layout(res.Value.Str()), nil
}

func (s *PageSurface) FixWidth(ctx context.Context, px int) error {
	_, err := s.root.Context(ctx).Eval(`(w) => {
		this.style.width = w + 'px';
		this.style.minWidth = w + 'px';
		this.style.maxWidth = w + 'px';
	}`, px)
	return err
}

func (s *PageSurface) Restore(ctx context.Context, l Layout) error {
	_, err := s.root.Context(ctx).Eval(`(style) => {
		if (style) { this.setAttribute('style', style); } else { this.removeAttribute('style'); }
	}`, string(l))
	return err
}

func (s *PageSurface) Height(ctx context.Context) (int, error) {
	res, err := s.root.Context(ctx).Eval(`() => Math.ceil(this.scrollHeight)`)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

// Rasterize sizes the viewport to the whole surface so the element
// screenshot is never clipped, at scale device pixels per CSS pixel.
func (s *PageSurface) Rasterize(ctx context.Context, width, height int, scale float64) (image.Image, error) {
	err := s.page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: scale,
	})
	if err != nil {
		return nil, fmt.Errorf("viewport: %w", err)
	}
	data, err := s.root.Context(ctx).Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}
