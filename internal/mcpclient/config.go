package mcpclient

import (
	"sort"
	"strings"
)

// ServerConfig describes one MCP server connection. Command transport spawns
// a subprocess; sse and streamable_http reach a remote endpoint.
type ServerConfig struct {
	Name      string            `json:"name"`
	Transport string            `json:"transport"`
	Command   string            `json:"command"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
}

// ServerSpec is the shape MCP servers take in the application config: the
// map key is the server name.
type ServerSpec struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
}

// FromSpecMap converts the config-file map into connectable server configs,
// sorted by name for stable connect order.
func FromSpecMap(specs map[string]ServerSpec) []ServerConfig {
	if len(specs) == 0 {
		return nil
	}
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ServerConfig, 0, len(names))
	for _, name := range names {
		spec := specs[name]
		cfg := ServerConfig{
			Name:    name,
			Command: spec.Command,
			Args:    spec.Args,
			Env:     spec.Env,
			URL:     spec.URL,
		}
		if strings.TrimSpace(spec.Command) == "" && strings.TrimSpace(spec.URL) != "" {
			cfg.Transport = "streamable_http"
		}
		out = append(out, cfg)
	}
	return out
}
