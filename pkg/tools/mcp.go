package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"genesis/pkg/api"
	"io"
	"net/http"
	"strings"
	"time"
)

// MCPToolConfig describes one remote tool exposed by an MCP (Model Context
// Protocol) server, as declared statically in configuration rather than
// discovered dynamically — wire-level MCP transport (session negotiation,
// SSE streaming, stdio subprocess servers) is out of scope here; this is a
// thin JSON-RPC proxy for the uniform tool-handler contract.
type MCPToolConfig struct {
	Name        string
	Description string
	Endpoint    string         // JSON-RPC endpoint URL for this MCP server
	Schema      map[string]any // JSON Schema "properties" for the tool's arguments
	Required    []string
	Timeout     time.Duration
}

// MCPTool is an api.Tool backed by a single remote MCP tool, invoked via the
// protocol's "tools/call" JSON-RPC method over plain HTTP.
type MCPTool struct {
	cfg        MCPToolConfig
	httpClient *http.Client
}

// NewMCPTool wraps cfg as an executable api.Tool.
func NewMCPTool(cfg MCPToolConfig) *MCPTool {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MCPTool{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (t *MCPTool) Name() string        { return t.cfg.Name }
func (t *MCPTool) Description() string { return t.cfg.Description }

func (t *MCPTool) Parameters() map[string]any {
	if t.cfg.Schema != nil {
		return t.cfg.Schema
	}
	return map[string]any{}
}

func (t *MCPTool) RequiredParameters() []string {
	return t.cfg.Required
}

// jsonRPCRequest/jsonRPCResponse mirror the minimal JSON-RPC 2.0 envelope
// MCP's "tools/call" method is documented against.
type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type jsonRPCResponse struct {
	Result *mcpCallResult `json:"result,omitempty"`
	Error  *jsonRPCError  `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type mcpCallResult struct {
	IsError bool             `json:"isError,omitempty"`
	Content []mcpContentItem `json:"content"`
}

type mcpContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Execute issues a "tools/call" JSON-RPC request and translates the result
// (or the reported protocol error) into an api.ToolResult.
func (t *MCPTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params: map[string]any{
			"name":      t.cfg.Name,
			"arguments": args,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode MCP request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("MCP request to %s failed: %w", t.cfg.Name, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read MCP response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("MCP server returned %d: %s", resp.StatusCode, string(payload))
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(payload, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse MCP response: %w", err)
	}

	if rpcResp.Error != nil {
		return &api.ToolResult{
			Content: []api.ContentBlock{{Type: "text", Text: rpcResp.Error.Message}},
			Details: map[string]any{"success": false, "code": rpcResp.Error.Code},
		}, nil
	}

	result := rpcResp.Result
	if result == nil {
		return &api.ToolResult{
			Content: []api.ContentBlock{{Type: "text", Text: ""}},
			Details: map[string]any{"success": true},
		}, nil
	}

	blocks := make([]api.ContentBlock, 0, len(result.Content))
	for _, c := range result.Content {
		if c.Type == "text" || c.Text != "" {
			blocks = append(blocks, api.ContentBlock{Type: "text", Text: c.Text})
		}
	}
	if len(blocks) == 0 {
		blocks = append(blocks, api.ContentBlock{Type: "text", Text: ""})
	}

	return &api.ToolResult{
		Content: blocks,
		Details: map[string]any{"success": !result.IsError},
	}, nil
}
