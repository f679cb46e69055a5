package settings

import (
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/keybind/kit"
)

// RegisterMCP registers the settings tools on srv.
func (s *Service) RegisterMCP(srv *mcp.Server, logger *slog.Logger) {
	if logger == nil {
		logger = s.logger
	}
	ep := MakeEndpoints(s, logger)

	hostProp := map[string]any{"type": "string", "description": "Site host name, e.g. example.com"}

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "keybind_sites",
		Description: "List the sites that have keyboard shortcuts.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, ep.Sites, kit.DecodeArgs[emptyReq])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "keybind_list",
		Description: "List the keyboard shortcuts of a site with their chord, element name and locator.",
		InputSchema: inputSchema(map[string]any{"host": hostProp}, []string{"host"}),
	}, ep.List, kit.DecodeArgs[siteReq])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "keybind_help",
		Description: "Render the shortcut help listing of a site (markdown, text or html).",
		InputSchema: inputSchema(map[string]any{
			"host":   hostProp,
			"format": map[string]any{"type": "string", "enum": []string{"markdown", "text", "html"}},
		}, []string{"host"}),
	}, ep.Help, kit.DecodeArgs[helpReq])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name: "keybind_save",
		Description: "Replace the shortcuts of a site. Each row is a single letter or number key and a CSS locator; " +
			"incomplete or invalid rows are ignored and counted.",
		InputSchema: inputSchema(map[string]any{
			"host": hostProp,
			"rows": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"key":     map[string]any{"type": "string"},
						"locator": map[string]any{"type": "string"},
					},
				},
			},
		}, []string{"host", "rows"}),
	}, ep.Save, kit.DecodeArgs[saveReq])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "keybind_delete",
		Description: "Delete one shortcut of a site.",
		InputSchema: inputSchema(map[string]any{
			"host": hostProp,
			"key":  map[string]any{"type": "string", "description": "Bound key, a single letter or number"},
		}, []string{"host", "key"}),
	}, ep.Delete, kit.DecodeArgs[deleteReq])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "keybind_reset",
		Description: "Delete every shortcut of a site.",
		InputSchema: inputSchema(map[string]any{"host": hostProp}, []string{"host"}),
	}, ep.Reset, kit.DecodeArgs[siteReq])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "keybind_capture",
		Description: "Turn capture mode on or off in the open page.",
		InputSchema: inputSchema(map[string]any{"state": map[string]any{"type": "boolean"}}, []string{"state"}),
	}, ep.Capture, kit.DecodeArgs[toggleReq])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "keybind_status",
		Description: "Show the last status line and the last captured assignment.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, ep.Status, kit.DecodeArgs[emptyReq])
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
