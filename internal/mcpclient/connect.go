package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const clientName = "minder"

// Server is one connected MCP server with its advertised tool list.
type Server struct {
	Config  ServerConfig
	Session *mcp.ClientSession
	Tools   []*mcp.Tool
}

func (s *Server) Close() error {
	if s == nil || s.Session == nil {
		return nil
	}
	return s.Session.Close()
}

// ConnectServers dials every config and returns the servers that came up.
// Failures are collected rather than aborting the pass, so one broken
// server does not take the rest of the set offline.
func ConnectServers(ctx context.Context, configs []ServerConfig) ([]*Server, error) {
	if len(configs) == 0 {
		return nil, nil
	}

	client := mcp.NewClient(&mcp.Implementation{Name: clientName, Version: "dev"}, nil)

	var (
		servers []*Server
		faults  []string
		seen    = map[string]bool{}
	)
	for _, cfg := range configs {
		name := strings.TrimSpace(cfg.Name)
		if name == "" {
			faults = append(faults, "server name is required")
			continue
		}
		if seen[name] {
			faults = append(faults, "duplicate server name: "+name)
			continue
		}
		seen[name] = true

		server, err := connectOne(ctx, client, cfg)
		if err != nil {
			faults = append(faults, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		servers = append(servers, server)
	}

	if len(faults) > 0 {
		return servers, fmt.Errorf("mcp: %s", strings.Join(faults, "; "))
	}
	return servers, nil
}

func connectOne(ctx context.Context, client *mcp.Client, cfg ServerConfig) (*Server, error) {
	transport, err := cfg.dial()
	if err != nil {
		return nil, err
	}
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	tools, err := listAllTools(ctx, session)
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("list tools: %w", err)
	}
	return &Server{Config: cfg, Session: session, Tools: tools}, nil
}

func CloseServers(servers []*Server) error {
	var faults []string
	for _, server := range servers {
		if server == nil {
			continue
		}
		if err := server.Close(); err != nil {
			name := strings.TrimSpace(server.Config.Name)
			if name == "" {
				name = "(unknown)"
			}
			faults = append(faults, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(faults) > 0 {
		return errors.New(strings.Join(faults, "; "))
	}
	return nil
}

// listAllTools follows the cursor until the server runs out of pages.
func listAllTools(ctx context.Context, session *mcp.ClientSession) ([]*mcp.Tool, error) {
	var tools []*mcp.Tool
	params := &mcp.ListToolsParams{}
	for {
		res, err := session.ListTools(ctx, params)
		if err != nil {
			return nil, err
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" {
			return tools, nil
		}
		params.Cursor = res.NextCursor
	}
}

func (cfg ServerConfig) dial() (mcp.Transport, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case "", "command", "stdio":
		if strings.TrimSpace(cfg.Command) == "" {
			return nil, errors.New("command is required for command transport")
		}
		cmd := exec.Command(cfg.Command, cfg.Args...)
		// Servers inherit our environment, with config entries layered on
		// top. API keys mostly arrive through the parent .env this way.
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		return &mcp.CommandTransport{Command: cmd}, nil
	case "sse":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, errors.New("url is required for sse transport")
		}
		return &mcp.SSEClientTransport{Endpoint: cfg.URL}, nil
	case "streamable_http", "streamable", "http":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, errors.New("url is required for streamable_http transport")
		}
		return &mcp.StreamableClientTransport{Endpoint: cfg.URL}, nil
	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.Transport)
	}
}
