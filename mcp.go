package smartboot

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/smartboot/bootstrap"
	"github.com/hazyhaar/smartboot/internal/kit"
)

// RunReader reads stored probe outcomes.
type RunReader interface {
	GetRun(ctx context.Context, id string) (*Outcome, error)
	ListRuns(ctx context.Context, limit int) ([]*Outcome, error)
	TriggerCounts(ctx context.Context) (map[string]int, error)
}

// RegisterMCP registers the smartboot tools on an MCP server. The runs
// tool is only registered when runs is non-nil.
func (p *Prober) RegisterMCP(srv *mcp.Server, runs RunReader) {
	p.registerResolveTool(srv)
	p.registerCombinationTool(srv)
	p.registerProbeTool(srv)
	if runs != nil {
		p.registerRunsTool(srv, runs)
	}
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// --- resolve ---

type resolveReq struct {
	URL    string `json:"url"`
	Cookie string `json:"cookie"`
}

func (p *Prober) registerResolveTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "smartboot_resolve",
		Description: "Resolve account, mode, tolerances and the bootstrap request URL for a page address.",
		InputSchema: inputSchema(map[string]any{
			"url":    map[string]any{"type": "string", "description": "Page address"},
			"cookie": map[string]any{"type": "string", "description": "document.cookie string used for the combination token"},
		}, []string{"url"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*resolveReq)
		if r.URL == "" {
			return nil, fmt.Errorf("url is required")
		}
		return p.Resolve(r.URL, r.Cookie), nil
	}

	kit.RegisterMCPTool[resolveReq](srv, tool, kit.Logging(p.logger, tool.Name)(endpoint))
}

// --- combination ---

type combinationReq struct {
	Cookie string `json:"cookie"`
}

func (p *Prober) registerCombinationTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "smartboot_combination",
		Description: "Encode the experiment combination token from a cookie string.",
		InputSchema: inputSchema(map[string]any{
			"cookie": map[string]any{"type": "string", "description": "document.cookie string"},
		}, []string{"cookie"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*combinationReq)
		return map[string]string{"token": bootstrap.EncodeCombination(r.Cookie)}, nil
	}

	kit.RegisterMCPTool[combinationReq](srv, tool, kit.Logging(p.logger, tool.Name)(endpoint))
}

// --- probe ---

func (p *Prober) registerProbeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "smartboot_probe",
		Description: "Run the bootstrap loader against a page and report how and when it was revealed.",
		InputSchema: inputSchema(map[string]any{
			"url":    map[string]any{"type": "string", "description": "Page address"},
			"driver": map[string]any{"type": "string", "enum": []string{"html", "browser"}, "description": "html (default) or browser"},
			"cookie": map[string]any{"type": "string", "description": "Cookies sent with the page request"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return p.Probe(ctx, *req.(*ProbeRequest))
	}

	kit.RegisterMCPTool[ProbeRequest](srv, tool, kit.Logging(p.logger, tool.Name)(endpoint))
}

// --- runs ---

type runsReq struct {
	ID    string `json:"id"`
	Limit int    `json:"limit"`
}

func (p *Prober) registerRunsTool(srv *mcp.Server, runs RunReader) {
	tool := &mcp.Tool{
		Name:        "smartboot_runs",
		Description: "List recent probe outcomes, newest first, or fetch one by id.",
		InputSchema: inputSchema(map[string]any{
			"id":    map[string]any{"type": "string", "description": "Run id"},
			"limit": map[string]any{"type": "integer", "description": "Maximum runs to list (default 50)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*runsReq)
		if r.ID == "" {
			return runs.ListRuns(ctx, r.Limit)
		}
		o, err := runs.GetRun(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		if o == nil {
			return nil, fmt.Errorf("run %s not found", r.ID)
		}
		return o, nil
	}

	kit.RegisterMCPTool[runsReq](srv, tool, kit.Logging(p.logger, tool.Name)(endpoint))
}
