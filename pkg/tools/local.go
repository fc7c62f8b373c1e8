package tools

import (
	"context"
	"fmt"

	"github.com/praxisworks/praxis/pkg/config"
)

// LocalToolSource hosts the native tools built into the binary.
type LocalToolSource struct {
	name  string
	tools map[string]Tool
}

// LocalDeps carries the backends native tools need. Nil fields disable the
// tools that require them.
type LocalDeps struct {
	Prices PriceReader
	Memory MemoryWriter
}

// NewLocalToolSource constructs the native tools declared in the tool config.
// Unknown names are rejected so a typo in config fails at startup.
func NewLocalToolSource(toolConfig map[string]*config.ToolConfig, deps LocalDeps) (*LocalToolSource, error) {
	src := &LocalToolSource{name: "local", tools: map[string]Tool{}}

	for name, cfg := range toolConfig {
		if cfg == nil || !cfg.IsEnabled() {
			continue
		}
		var tool Tool
		switch name {
		case "web_fetch":
			tool = NewWebFetchTool(cfg)
		case "send_email":
			tool = NewSendEmailTool(cfg)
		case "homey":
			tool = NewHomeyTool(cfg)
		case "price_tracker":
			tool = NewPriceTrackerTool(deps.Prices)
		case "remember":
			tool = NewRememberTool(deps.Memory)
		default:
			return nil, fmt.Errorf("unknown native tool %q", name)
		}
		src.tools[name] = tool
	}
	return src, nil
}

func (s *LocalToolSource) GetName() string { return s.name }

func (s *LocalToolSource) GetType() string { return "local" }

func (s *LocalToolSource) DiscoverTools(_ context.Context) error { return nil }

func (s *LocalToolSource) ListTools() []ToolInfo {
	infos := make([]ToolInfo, 0, len(s.tools))
	for _, t := range s.tools {
		infos = append(infos, t.Info())
	}
	return infos
}

func (s *LocalToolSource) GetTool(name string) (Tool, bool) {
	t, ok := s.tools[name]
	return t, ok
}
