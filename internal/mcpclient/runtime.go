package mcpclient

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Runtime owns the live MCP sessions. Reload swaps the whole set so a
// config change never leaves a half-connected mix.
type Runtime struct {
	mu      sync.RWMutex
	source  func() ([]ServerConfig, error)
	servers []*Server
	tools   []*MCPTool
}

type ReloadReport struct {
	Servers  int
	Tools    int
	Warnings []string
}

func NewRuntime(source func() ([]ServerConfig, error)) *Runtime {
	return &Runtime{source: source}
}

func (r *Runtime) Reload(ctx context.Context) (ReloadReport, error) {
	report := ReloadReport{}

	configs, err := r.source()
	if err != nil {
		return report, err
	}

	servers, connectErr := ConnectServers(ctx, configs)
	tools, toolsErr := ToolsFromServers(servers)

	if len(configs) > 0 && len(servers) == 0 {
		_ = CloseServers(servers)
		if connectErr != nil {
			return report, fmt.Errorf("mcp reload failed: no servers connected (%v)", connectErr)
		}
		return report, fmt.Errorf("mcp reload failed: no servers connected")
	}

	warnings := make([]string, 0, 3)
	if connectErr != nil {
		warnings = append(warnings, connectErr.Error())
	}
	if toolsErr != nil {
		warnings = append(warnings, toolsErr.Error())
	}

	r.mu.Lock()
	oldServers := r.servers
	r.servers = servers
	r.tools = tools
	r.mu.Unlock()

	if err := CloseServers(oldServers); err != nil {
		warnings = append(warnings, fmt.Sprintf("close previous sessions: %v", err))
	}

	report.Servers = len(servers)
	report.Tools = len(tools)
	report.Warnings = warnings
	return report, nil
}

func (r *Runtime) Tools() []*MCPTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*MCPTool, len(r.tools))
	copy(out, r.tools)
	return out
}

func (r *Runtime) ToolNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for _, tool := range r.tools {
		if tool != nil {
			out = append(out, tool.LocalName)
		}
	}
	return out
}

func (r *Runtime) Close() error {
	r.mu.Lock()
	oldServers := r.servers
	r.servers = nil
	r.tools = nil
	r.mu.Unlock()
	return CloseServers(oldServers)
}

func (r ReloadReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "mcp reload complete: servers=%d tools=%d", r.Servers, r.Tools)
	if len(r.Warnings) > 0 {
		b.WriteString("\nwarnings:")
		for _, warn := range r.Warnings {
			b.WriteString("\n- ")
			b.WriteString(warn)
		}
	}
	return b.String()
}
