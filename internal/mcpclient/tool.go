package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"minder/internal/llm"
)

// MCPTool adapts one remote MCP tool to the registry's tool interface.
// LocalName carries the server prefix so tools from different servers
// never collide in the model's tool list.
type MCPTool struct {
	ServerName  string
	LocalName   string
	RemoteName  string
	Description string
	InputSchema any
	Session     *mcp.ClientSession
}

// ToolsFromServers flattens the advertised tools of every connected server
// into registrable adapters. Name collisions and unnamed tools are reported
// but do not block the rest of the set.
func ToolsFromServers(servers []*Server) ([]*MCPTool, error) {
	var (
		tools  []*MCPTool
		faults []string
		used   = map[string]bool{}
	)
	for _, server := range servers {
		if server == nil {
			continue
		}
		serverName := strings.TrimSpace(server.Config.Name)
		for _, remote := range server.Tools {
			if remote == nil {
				continue
			}
			localName := joinSlugs(serverName, remote.Name)
			if localName == "" {
				faults = append(faults, serverName+": tool name is empty")
				continue
			}
			if used[localName] {
				faults = append(faults, "duplicate tool name: "+localName)
				continue
			}
			used[localName] = true
			tools = append(tools, &MCPTool{
				ServerName:  serverName,
				LocalName:   localName,
				RemoteName:  remote.Name,
				Description: describeRemote(serverName, remote.Description),
				InputSchema: schemaOrEmpty(remote.InputSchema),
				Session:     server.Session,
			})
		}
	}

	if len(faults) > 0 {
		return tools, fmt.Errorf("mcp: %s", strings.Join(faults, "; "))
	}
	return tools, nil
}

func (t *MCPTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.ToolFunctionDef{
			Name:        t.LocalName,
			Description: t.Description,
			Parameters:  t.InputSchema,
		},
	}
}

func (t *MCPTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	if t == nil || t.Session == nil {
		return "", fmt.Errorf("mcp tool %s is not connected", t.LocalName)
	}

	var parsed any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &parsed); err != nil {
			return "", err
		}
	}

	res, err := t.Session.CallTool(ctx, &mcp.CallToolParams{
		Name:      t.RemoteName,
		Arguments: parsed,
	})
	if err != nil {
		return "", err
	}
	return renderResult(res)
}

// renderResult keeps plain text results readable for the model and falls
// back to raw JSON for anything structured.
func renderResult(res *mcp.CallToolResult) (string, error) {
	if res == nil {
		return "", nil
	}
	if res.StructuredContent == nil {
		if text, ok := plainText(res.Content); ok {
			return text, nil
		}
	}
	data, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// plainText joins text blocks, reporting false when any block is not text.
func plainText(content []mcp.Content) (string, bool) {
	parts := make([]string, 0, len(content))
	for _, item := range content {
		text, ok := item.(*mcp.TextContent)
		if !ok {
			return "", false
		}
		parts = append(parts, text.Text)
	}
	return strings.Join(parts, "\n"), true
}

func describeRemote(serverName, desc string) string {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return fmt.Sprintf("MCP tool from %s", serverName)
	}
	return fmt.Sprintf("[MCP:%s] %s", serverName, desc)
}

func schemaOrEmpty(schema any) any {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return schema
}

// joinSlugs builds server__tool, dropping either side when it slugs to
// nothing.
func joinSlugs(serverName, toolName string) string {
	server := slug(serverName)
	tool := slug(toolName)
	switch {
	case server == "":
		return tool
	case tool == "":
		return server
	default:
		return server + "__" + tool
	}
}

// slug replaces anything outside the tool-name alphabet with underscores.
func slug(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
