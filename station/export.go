package station

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sunterra/fieldrecord/browser"
	"github.com/sunterra/fieldrecord/capture"
	"github.com/sunterra/fieldrecord/idgen"
	"github.com/sunterra/fieldrecord/observability"
	"github.com/sunterra/fieldrecord/render"
)

// Kind selects the export format.
type Kind string

const (
	KindPDF   Kind = "pdf"
	KindImage Kind = "image"
)

// ParseKind validates a format name from a URL or tool argument.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindPDF, KindImage:
		return k, nil
	}
	return "", fmt.Errorf("station: unknown export format %q", s)
}

func (k Kind) ext() string {
	if k == KindImage {
		return "png"
	}
	return "pdf"
}

// Exporter turns a printable document into an artifact.
type Exporter interface {
	Export(ctx context.Context, kind Kind, doc render.Document, req capture.Request) (*capture.Artifact, error)
}

// BrowserExporter renders the document to HTML, loads it into a headless
// Chrome page and runs the capture pipeline over it.
type BrowserExporter struct {
	renderer *render.Renderer
	browser  *browser.Manager
	pipeline *capture.Pipeline
	logger   *slog.Logger
}

// NewBrowserExporter wires the renderer, browser and pipeline together.
func NewBrowserExporter(r *render.Renderer, b *browser.Manager, p *capture.Pipeline, logger *slog.Logger) *BrowserExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &BrowserExporter{renderer: r, browser: b, pipeline: p, logger: logger}
}

func (e *BrowserExporter) Export(ctx context.Context, kind Kind, doc render.Document, req capture.Request) (*capture.Artifact, error) {
	html, err := e.renderer.HTML(doc)
	if err != nil {
		return nil, err
	}
	page, err := e.browser.Page(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			e.logger.Debug("export: close page", "error", cerr)
		}
	}()

	surface, err := capture.LoadPageSurface(ctx, page, html, "#"+render.RootID)
	if err != nil {
		return nil, err
	}
	if kind == KindImage {
		return e.pipeline.CaptureImage(ctx, surface, req)
	}
	return e.pipeline.CaptureDocument(ctx, surface, req)
}

// exported is one finished capture job.
type exported struct {
	Job      string
	Artifact *capture.Artifact
	// Path of the kept copy, empty when none was written.
	Path string
}

// export runs one capture for form and records the outcome. An incomplete
// record is refused with its ValidationError before any capture starts. A
// copy of the artifact is kept in the export directory when one is
// configured; failing to write it does not fail the export.
func (s *Service) export(ctx context.Context, form string, kind Kind, userAgent string) (*exported, error) {
	platform := capture.Unconstrained
	if s.cfg.Platforms != nil {
		platform = s.cfg.Platforms.Detect(userAgent)
	}
	now := s.cfg.Clock.Now().In(s.cfg.Codec.Location)

	var (
		doc           render.Document
		customer, job string
		prefix        string
	)
	switch form {
	case FormITR:
		if err := s.itr.session.Validate(); err != nil {
			return nil, err
		}
		doc = s.itr.session.Document(now)
		customer, job, prefix = s.itr.session.Customer(), s.itr.session.Job(), "ITR"
	case FormVO:
		if err := s.vo.session.Validate(); err != nil {
			return nil, err
		}
		doc = s.vo.session.Document()
		o := s.vo.session.Record()
		customer, job, prefix = o.CustomerName, o.JobNumber, "VO"
	default:
		return nil, fmt.Errorf("station: unknown form %q", form)
	}
	capID := idgen.Capture()

	name := capture.ArtifactName(capture.NameParts{
		Prefix:   prefix,
		Customer: customer,
		Job:      job,
		At:       now,
		WithTime: kind == KindImage,
		Ext:      kind.ext(),
	})
	art, err := s.cfg.Exporter.Export(ctx, kind, doc, capture.Request{Platform: platform, Name: name})
	if err != nil {
		s.logger.Error("station: export failed", "capture", capID, "form", form, "kind", kind, "platform", platform.Name, "error", err)
		s.cfg.Activity.Record(observability.Event{
			Type:    observability.ExportFailed,
			Form:    form,
			Subject: name,
			Details: observability.Details(map[string]string{"capture": capID, "kind": string(kind), "error": err.Error()}),
		})
		return nil, err
	}

	path := s.keep(art)
	s.cfg.Activity.Record(observability.Event{
		Type:    observability.ExportGenerated,
		Form:    form,
		Subject: art.Name,
		Success: true,
		Details: observability.Details(map[string]any{
			"capture": capID, "kind": kind, "pages": art.Pages, "scale": art.Scale, "bytes": len(art.Data), "platform": platform.Name,
		}),
	})
	return &exported{Job: capID, Artifact: art, Path: path}, nil
}

func (s *Service) keep(art *capture.Artifact) string {
	if s.cfg.ExportDir == "" {
		return ""
	}
	if err := os.MkdirAll(s.cfg.ExportDir, 0o755); err != nil {
		s.logger.Warn("station: export dir", "error", err)
		return ""
	}
	path := filepath.Join(s.cfg.ExportDir, art.Name)
	if err := os.WriteFile(path, art.Data, 0o644); err != nil {
		s.logger.Warn("station: keep artifact", "path", path, "error", err)
		return ""
	}
	return path
}
