package mcp

import (
	"context"
	"sync"

	"github.com/praxisworks/praxis/pkg/tools"
)

// ToolSource exposes one MCP server's tools through the tool contract for a
// specific context. Discovery goes through the pool so health state and
// negative caching apply.
type ToolSource struct {
	pool      *Pool
	contextID string
	server    string

	mu    sync.RWMutex
	tools map[string]tools.Tool
}

// NewToolSource builds a source for (contextID, server).
func NewToolSource(pool *Pool, contextID, server string) *ToolSource {
	return &ToolSource{
		pool:      pool,
		contextID: contextID,
		server:    server,
		tools:     map[string]tools.Tool{},
	}
}

func (s *ToolSource) GetName() string { return s.server }

func (s *ToolSource) GetType() string { return "mcp" }

func (s *ToolSource) DiscoverTools(ctx context.Context) error {
	client, err := s.pool.Get(ctx, s.contextID, s.server)
	if err != nil {
		return err
	}

	remote, err := client.ListTools(ctx)
	if err != nil {
		s.pool.ReportBroken(s.contextID, s.server)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = make(map[string]tools.Tool, len(remote))
	for _, rt := range remote {
		s.tools[rt.Name] = &remoteTool{source: s, spec: rt}
	}
	return nil
}

func (s *ToolSource) ListTools() []tools.ToolInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]tools.ToolInfo, 0, len(s.tools))
	for _, t := range s.tools {
		infos = append(infos, t.Info())
	}
	return infos
}

func (s *ToolSource) GetTool(name string) (tools.Tool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tools[name]
	return t, ok
}

// remoteTool proxies one MCP tool call through the pool. Arguments stay raw:
// the server owns the schema.
type remoteTool struct {
	source *ToolSource
	spec   RemoteTool
}

func (t *remoteTool) Info() tools.ToolInfo {
	return tools.ToolInfo{
		Name:        t.spec.Name,
		Description: t.spec.Description,
		Parameters:  t.spec.InputSchema,
		ServerURL:   t.source.server,
	}
}

func (t *remoteTool) Execute(ctx context.Context, args map[string]any, _ *tools.Ambient) (string, error) {
	client, err := t.source.pool.Get(ctx, t.source.contextID, t.source.server)
	if err != nil {
		return "", err
	}

	out, err := client.CallTool(ctx, t.spec.Name, args)
	if err != nil {
		t.source.pool.ReportBroken(t.source.contextID, t.source.server)
		return "", err
	}
	return out, nil
}

var _ tools.ToolSource = (*ToolSource)(nil)
