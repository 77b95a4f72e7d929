// Package mcpcloud is an illustrative cloud connector exposing the gateway
// as an MCP server: an agent can list connectors and submit a command
// batch as tool calls instead of a wire protocol. Grounded on the
// teacher's mcp/mcp.go and server/coordinator.go's "list_devices" tool
// registration.
package mcpcloud

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mbocsi/edgegateway/internal/connector"
)

// Connector runs an MCP server over stdio. Lister is consulted by the
// list_connectors tool; it is supplied by the embedder (e.g. backed by
// Controller.GetCloudConnectors/GetDeviceConnectors) so this package never
// imports the core controller.
type Lister func() []map[string]any

type Connector struct {
	*connector.Base

	lister Lister
	srv    *mcpserver.MCPServer
	cancel context.CancelFunc
}

// New builds an inactive MCP cloud connector. lister may be nil (the
// list_connectors tool then always returns an empty list).
func New(id string, lister Lister) connector.Connector {
	if lister == nil {
		lister = func() []map[string]any { return []map[string]any{} }
	}
	c := &Connector{lister: lister}
	c.Base = connector.NewBase(id, connector.Cloud, c)
	return c
}

func (c *Connector) OnInit(ctx context.Context, config map[string]any, requestID string) (any, error) {
	srv := mcpserver.NewMCPServer("edgegateway", "1.0.0")

	listTool := mcp.NewTool("list_connectors",
		mcp.WithDescription("List the gateway's cloud and device connectors and their state"))
	srv.AddTool(listTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.MarshalIndent(c.lister(), "", "  ")
		if err != nil {
			return nil, err
		}
		return &mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(b)}}}, nil
	})

	sendTool := mcp.NewTool("send_command",
		mcp.WithDescription("Submit a CnC command batch (as a JSON array) to the gateway"),
		mcp.WithString("batch", mcp.Required(), mcp.Description("JSON-encoded array of CnC commands")))
	srv.AddTool(sendTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw := req.GetString("batch", "")
		var batch []any
		if err := json.Unmarshal([]byte(raw), &batch); err != nil {
			return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "invalid batch: " + err.Error()}}}, nil
		}
		c.Emit(batch, "")
		return &mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "submitted"}}}, nil
	})

	c.srv = srv
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go func() {
		if err := mcpserver.ServeStdio(srv); err != nil {
			c.EmitLog(map[string]any{"level": "error", "message": "mcp server exited: " + err.Error()})
		}
		<-runCtx.Done()
	}()

	return map[string]any{"transport": "stdio"}, nil
}

func (c *Connector) OnStop(ctx context.Context, requestID string) (any, error) {
	if c.cancel != nil {
		c.cancel()
	}
	return nil, nil
}

// AddData and AddLogData have no wire target for an MCP-stdio connector
// (there is no open request to reply to outside a tool call); replies are
// returned synchronously from the tool handlers above, so both are no-ops,
// keeping Base's default behavior for AddLogData and overriding AddData to
// the same no-op for symmetry.
func (c *Connector) AddData(payload any, requestID string) error { return nil }
