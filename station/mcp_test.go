package station

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func mcpSession(t *testing.T, f *fixture) *mcp.ClientSession {
	t.Helper()
	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = f.svc.mcp.Run(ctx, serverT) }()

	session, err := mcp.NewClient(&mcp.Implementation{Name: "station-test", Version: "0.1.0"}, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, s *mcp.ClientSession, name string, args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	if args == nil {
		args = map[string]any{}
	}
	res, err := s.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatal(err)
	}
	if out != nil && !res.IsError {
		if err := json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), out); err != nil {
			t.Fatal(err)
		}
	}
	return res
}

func TestMCP_ListsStationTools(t *testing.T) {
	f := newFixture(t)
	s := mcpSession(t, f)
	res, err := s.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, tool := range res.Tools {
		got[tool.Name] = true
	}
	for _, name := range []string{
		"itr_get_draft", "itr_clear_draft", "itr_export",
		"vo_get_draft", "vo_clear_draft", "vo_export",
		"connectivity_status", "drafts_list",
	} {
		if !got[name] {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestMCP_ExportAndDrafts(t *testing.T) {
	f := newFixture(t)
	fillRequired(t, f)
	s := mcpSession(t, f)

	var exported exportResult
	res := callTool(t, s, "itr_export", map[string]any{"format": "pdf"}, &exported)
	if err := res.GetError(); err != nil {
		t.Fatalf("itr_export: %v", err)
	}
	if exported.Name != "ITR_Jane_O_Brien_J_1001_2025-09-26.pdf" || exported.Path == "" || exported.Pages != 2 || len(exported.Job) <= len("cap_") {
		t.Fatalf("export: %+v", exported)
	}

	res = callTool(t, s, "vo_export", map[string]any{"format": "docx"}, nil)
	if !res.IsError {
		t.Fatal("expected error for unknown format")
	}

	var draft struct {
		Summary string `json:"summary"`
	}
	callTool(t, s, "itr_get_draft", nil, &draft)
	if draft.Summary == "" {
		t.Fatal("empty summary")
	}

	callTool(t, s, "itr_clear_draft", nil, nil)
	if f.svc.itr.session.Customer() != "" {
		t.Fatal("clear did not reset the session")
	}

	var list []DraftInfo
	callTool(t, s, "drafts_list", nil, &list)
	if len(list) != 2 || list[1].Key != "sunterra_variation_order_draft" {
		t.Fatalf("drafts: %+v", list)
	}

	var status struct {
		State string `json:"state"`
	}
	callTool(t, s, "connectivity_status", nil, &status)
	if status.State != "online" {
		t.Fatalf("status: %+v", status)
	}
}
