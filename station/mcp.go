package station

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sunterra/fieldrecord/kit"
	"github.com/sunterra/fieldrecord/render"
)

type exportArgs struct {
	Format string `json:"format"`
	// UserAgent selects platform quirks; empty means unconstrained.
	UserAgent string `json:"user_agent"`
}

type exportResult struct {
	Job         string  `json:"job"`
	Name        string  `json:"name"`
	Path        string  `json:"path,omitempty"`
	ContentType string  `json:"content_type"`
	Bytes       int     `json:"bytes"`
	Pages       int     `json:"pages"`
	Scale       float64 `json:"scale"`
}

type empty struct{}

var exportSchema = kit.InputSchema(map[string]any{
	"format":     map[string]any{"type": "string", "enum": []string{string(KindPDF), string(KindImage)}},
	"user_agent": map[string]any{"type": "string", "description": "Device User-Agent used to pick platform limits"},
}, "format")

var noArgs = kit.InputSchema(map[string]any{})

// NewMCPServer returns an MCP server exposing the station's drafts,
// exports and connectivity to operators and agents.
func (s *Service) NewMCPServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "itr-station", Version: "1.0.0"}, nil)
	s.RegisterMCP(srv)
	return srv
}

// RegisterMCP adds the station tools to srv.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "itr_get_draft",
		Description: "Current inspection and test record: stored draft fields and a markdown summary",
		InputSchema: noArgs,
	}, func(ctx context.Context, _ any) (any, error) {
		raw, err := s.cfg.Codec.Encode(s.itr.session.Snapshot())
		if err != nil {
			return nil, err
		}
		summary, err := s.cfg.Renderer.Markdown(s.document(FormITR))
		if err != nil {
			return nil, err
		}
		return map[string]any{"draft": json.RawMessage(raw), "summary": summary}, nil
	}, kit.DecodeJSON[empty]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "itr_clear_draft",
		Description: "Wipe the inspection draft and reset the form to its defaults",
		InputSchema: noArgs,
	}, func(ctx context.Context, _ any) (any, error) {
		return map[string]bool{"cleared": true}, s.Clear(ctx, FormITR)
	}, kit.DecodeJSON[empty]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "itr_export",
		Description: "Generate the inspection record as a PDF or PNG and keep it in the export directory",
		InputSchema: exportSchema,
	}, s.exportEndpoint(FormITR), kit.DecodeJSON[exportArgs]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "vo_get_draft",
		Description: "Current variation order with its formatted total",
		InputSchema: noArgs,
	}, func(ctx context.Context, _ any) (any, error) {
		o := s.vo.session.Record()
		return map[string]any{"order": o, "total": render.FormatAUD(o.Total())}, nil
	}, kit.DecodeJSON[empty]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "vo_clear_draft",
		Description: "Wipe the variation order draft and start a new order",
		InputSchema: noArgs,
	}, func(ctx context.Context, _ any) (any, error) {
		return map[string]bool{"cleared": true}, s.Clear(ctx, FormVO)
	}, kit.DecodeJSON[empty]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "vo_export",
		Description: "Generate the variation order as a PDF or PNG and keep it in the export directory",
		InputSchema: exportSchema,
	}, s.exportEndpoint(FormVO), kit.DecodeJSON[exportArgs]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "connectivity_status",
		Description: "Connectivity state as seen by the station: offline, degraded, online or restored",
		InputSchema: noArgs,
	}, func(ctx context.Context, _ any) (any, error) {
		return s.monitor.Status(), nil
	}, kit.DecodeJSON[empty]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "drafts_list",
		Description: "Stored drafts with size, last save and storage health",
		InputSchema: noArgs,
	}, func(ctx context.Context, _ any) (any, error) {
		return s.Drafts(ctx)
	}, kit.DecodeJSON[empty]())
}

func (s *Service) exportEndpoint(form string) kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		args := req.(*exportArgs)
		kind, err := ParseKind(args.Format)
		if err != nil {
			return nil, err
		}
		out, err := s.export(ctx, form, kind, args.UserAgent)
		if err != nil {
			return nil, err
		}
		art := out.Artifact
		return exportResult{
			Job:         out.Job,
			Name:        art.Name,
			Path:        out.Path,
			ContentType: art.ContentType,
			Bytes:       len(art.Data),
			Pages:       art.Pages,
			Scale:       art.Scale,
		}, nil
	}
}
