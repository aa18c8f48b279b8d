package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/jcdickinson/rsindex/internal/index"
	"github.com/jcdickinson/rsindex/internal/loader"
	"github.com/jcdickinson/rsindex/internal/rpc"
	"github.com/mark3labs/mcp-go/mcp"
)

type fakeDaemon struct {
	modules  map[string][]index.ModuleContribution
	sidebars map[string]index.SidebarIndex
	loaded   []rpc.LoadRequest
	failLoad bool
}

func (f *fakeDaemon) Implementors(_ context.Context, trait string) (*rpc.ImplementorsResponse, error) {
	mods := f.modules[trait]
	if mods == nil {
		mods = []index.ModuleContribution{}
	}
	return &rpc.ImplementorsResponse{Trait: trait, Modules: mods}, nil
}

func (f *fakeDaemon) Sidebar(_ context.Context, module string) (*rpc.SidebarResponse, error) {
	return &rpc.SidebarResponse{Module: module, Items: f.sidebars[module]}, nil
}

func (f *fakeDaemon) Status(context.Context) (*rpc.StatusResponse, error) {
	return &rpc.StatusResponse{State: "active", Traits: len(f.modules), Modules: len(f.sidebars), Conflicts: []index.Conflict{}}, nil
}

func (f *fakeDaemon) Load(_ context.Context, req rpc.LoadRequest, _ func(string)) (*loader.Stats, error) {
	if f.failLoad {
		return nil, errors.New("no such directory")
	}
	f.loaded = append(f.loaded, req)
	return &loader.Stats{Files: 3, Implementors: 2, Sidebars: 1}, nil
}

func newTestServer() (*Server, *fakeDaemon) {
	d := &fakeDaemon{
		modules: map[string][]index.ModuleContribution{
			"core::clone::Clone": {{Module: "style", Entries: index.Contribution{"impl Clone for Atom"}}},
		},
		sidebars: map[string]index.SidebarIndex{
			"style": {index.CategoryStruct: {{Name: "Atom", Description: "An atom."}}},
		},
	}
	return NewServer(d), d
}

func toolRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("got %d content items, want 1", len(res.Content))
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", res.Content[0])
	}
	return text.Text
}

func TestListImplementors(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer()
	ctx := context.Background()

	res, err := s.handleListImplementors(ctx, toolRequest(map[string]any{"trait": "core::clone::Clone"}))
	if err != nil {
		t.Fatal(err)
	}
	if got := resultText(t, res); !strings.Contains(got, "## style") || !strings.Contains(got, "- impl Clone for Atom") {
		t.Errorf("markdown listing:\n%s", got)
	}

	res, err = s.handleListImplementors(ctx, toolRequest(map[string]any{"trait": "core::clone::Clone", "format": "json"}))
	if err != nil {
		t.Fatal(err)
	}
	var mods []index.ModuleContribution
	if err := json.Unmarshal([]byte(resultText(t, res)), &mods); err != nil {
		t.Fatal(err)
	}
	if len(mods) != 1 || mods[0].Module != "style" {
		t.Errorf("json listing = %+v", mods)
	}

	res, err = s.handleListImplementors(ctx, toolRequest(map[string]any{}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("missing trait should be a tool error")
	}
}

func TestGetSidebar(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer()

	res, err := s.handleGetSidebar(context.Background(), toolRequest(map[string]any{"module": "style"}))
	if err != nil {
		t.Fatal(err)
	}
	if got := resultText(t, res); !strings.Contains(got, "- **Atom**: An atom.") {
		t.Errorf("sidebar:\n%s", got)
	}
}

func TestIndexStatus(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer()

	res, err := s.handleIndexStatus(context.Background(), toolRequest(nil))
	if err != nil {
		t.Fatal(err)
	}
	var status rpc.StatusResponse
	if err := json.Unmarshal([]byte(resultText(t, res)), &status); err != nil {
		t.Fatal(err)
	}
	if status.State != "active" || status.Traits != 1 {
		t.Errorf("status = %+v", status)
	}
}

func TestLoadDocs(t *testing.T) {
	t.Parallel()
	s, d := newTestServer()

	res, err := s.handleLoadDocs(context.Background(), toolRequest(map[string]any{"root": "/tmp/doc"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error: %s", resultText(t, res))
	}
	if len(d.loaded) != 1 || !d.loaded[0].Activate || d.loaded[0].Root != "/tmp/doc" {
		t.Errorf("load requests = %+v, want one activating load", d.loaded)
	}

	d.failLoad = true
	res, err = s.handleLoadDocs(context.Background(), toolRequest(map[string]any{"root": "/nope", "activate": false}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("failed load should be a tool error")
	}
}

func TestReadResource(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer()

	var req mcp.ReadResourceRequest
	req.Params.URI = "rsindex://implementors/core::clone::Clone"
	contents, err := s.handleReadResource(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("content is %T", contents[0])
	}
	if text.MIMEType != "text/markdown" || !strings.Contains(text.Text, "Implementors of `core::clone::Clone`") {
		t.Errorf("resource = %+v", text)
	}

	req.Params.URI = "rsdoc://serde/1.0/Serialize"
	if _, err := s.handleReadResource(context.Background(), req); err == nil {
		t.Error("expected error for foreign URI")
	}
}
