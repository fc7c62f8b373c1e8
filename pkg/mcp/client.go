// Copyright 2025 Praxis Works
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"context"
	"fmt"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpspec "github.com/mark3labs/mcp-go/mcp"

	"github.com/praxisworks/praxis/pkg/config"
)

const protocolVersion = "2024-11-05"

// goClient adapts a mark3labs/mcp-go client to the pool's Client interface.
// Both stdio (subprocess) and streamable-http transports go through it.
type goClient struct {
	inner *mcpclient.Client
}

// dialServer is the default ConnectFunc: it creates, starts, and initializes
// an mcp-go client for the configured transport.
func dialServer(ctx context.Context, name string, cfg *config.MCPServerConfig) (Client, error) {
	var inner *mcpclient.Client
	var err error

	if cfg.Command != "" {
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		inner, err = mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	} else {
		inner, err = mcpclient.NewStreamableHttpClient(cfg.URL)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client for %s: %w", name, err)
	}

	if err := inner.Start(ctx); err != nil {
		_ = inner.Close()
		return nil, fmt.Errorf("failed to start MCP client for %s: %w", name, err)
	}

	initReq := mcpspec.InitializeRequest{}
	initReq.Params.ClientInfo = mcpspec.Implementation{
		Name:    "praxis",
		Version: "1.0.0",
	}
	initReq.Params.ProtocolVersion = protocolVersion

	if _, err := inner.Initialize(ctx, initReq); err != nil {
		_ = inner.Close()
		return nil, fmt.Errorf("failed to initialize MCP session for %s: %w", name, err)
	}

	return &goClient{inner: inner}, nil
}

func (c *goClient) ListTools(ctx context.Context) ([]RemoteTool, error) {
	resp, err := c.inner.ListTools(ctx, mcpspec.ListToolsRequest{})
	if err != nil {
		return nil, err
	}

	tools := make([]RemoteTool, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		tools = append(tools, RemoteTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: convertSchema(t.InputSchema),
		})
	}
	return tools, nil
}

func (c *goClient) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	req := mcpspec.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := c.inner.CallTool(ctx, req)
	if err != nil {
		return "", err
	}

	text := extractText(resp.Content)
	if resp.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "Error: " + text, nil
	}
	return text, nil
}

func (c *goClient) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx)
}

func (c *goClient) Close() error {
	return c.inner.Close()
}

func extractText(content []mcpspec.Content) string {
	var parts []string
	for _, item := range content {
		if text, ok := mcpspec.AsTextContent(item); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func convertSchema(schema mcpspec.ToolInputSchema) map[string]any {
	out := map[string]any{"type": schema.Type}
	if schema.Type == "" {
		out["type"] = "object"
	}
	if len(schema.Properties) > 0 {
		out["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		out["required"] = schema.Required
	}
	return out
}
