package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCPTool exposes ep as an MCP tool. The call arguments are
// decoded into a fresh *Req before ep runs. Bad arguments and endpoint
// failures become tool errors, so the client sees them as results rather
// than protocol faults. A successful response is sent as JSON text.
func RegisterMCPTool[Req any](srv *mcp.Server, tool *mcp.Tool, ep Endpoint) {
	srv.AddTool(tool, func(ctx context.Context, call *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		req := new(Req)
		if args := call.Params.Arguments; len(args) > 0 {
			if err := json.Unmarshal(args, req); err != nil {
				return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}

		resp, err := ep(WithTransport(ctx, "mcp"), req)
		if err != nil {
			return toolError(err), nil
		}
		text, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("encode result: %w", err)), nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(text)}}}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	res := &mcp.CallToolResult{}
	res.SetError(err)
	return res
}
