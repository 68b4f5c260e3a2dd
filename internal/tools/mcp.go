package tools

import (
	"context"
	"encoding/json"
	"errors"

	"minder/internal/llm"
)

// MCPReloadTool lets the model refresh the MCP server set after editing the
// config, without a process restart. Reload is wired up in main, where the
// registry swap happens.
type MCPReloadTool struct {
	Reload func(ctx context.Context) (string, error)
}

func (t *MCPReloadTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.ToolFunctionDef{
			Name:        "mcp_reload",
			Description: "Reconnect MCP servers from the current config and refresh their tools. Use after changing mcp_servers.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}

func (t *MCPReloadTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(args) > 0 {
		var payload map[string]any
		if err := json.Unmarshal(args, &payload); err != nil {
			return "", err
		}
	}
	if t.Reload == nil {
		return "", errors.New("mcp reload is not configured")
	}
	return t.Reload(ctx)
}
