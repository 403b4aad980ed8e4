package main

import (
	"context"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v2"

	"CertVerify-Chain/internal/app"
	"CertVerify-Chain/internal/tools"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	mcpServerName    = "certverify"
	mcpServerVersion = "0.1.0"
	// mcpThreadID 标记经由 MCP 发起的工具调用，便于在流水中区分。
	mcpThreadID = "mcp"
)

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "serve the certificate tools over MCP stdio",
		Action: func(c *cli.Context) error {
			a, err := buildApp(c, app.WithoutLLM())
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := newMCPServer(a.Tools)
			if err != nil {
				return err
			}
			return server.ServeStdio(srv)
		},
	}
}

// newMCPServer 把注册表中的每个工具原样暴露为 MCP 工具。
func newMCPServer(registry *tools.Registry) (*server.MCPServer, error) {
	srv := server.NewMCPServer(mcpServerName, mcpServerVersion, server.WithToolCapabilities(false))
	for _, tool := range registry.Tools() {
		params := tool.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		schema, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		srv.AddTool(mcp.NewToolWithRawSchema(tool.Name, tool.Description, schema), toolHandler(registry, tool.Name))
	}
	return srv, nil
}

// toolHandler 把 MCP 请求参数重新编码为 JSON 字符串后交给注册表执行。
func toolHandler(registry *tools.Registry, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw := "{}"
		if args := req.GetArguments(); len(args) > 0 {
			encoded, err := json.Marshal(args)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			raw = string(encoded)
		}
		text := registry.Call(tools.WithThreadID(ctx, mcpThreadID), name, raw)
		if strings.HasPrefix(text, tools.FailureMarker) {
			return mcp.NewToolResultError(text), nil
		}
		return mcp.NewToolResultText(text), nil
	}
}
