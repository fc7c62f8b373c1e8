package skills

import (
	"context"

	"github.com/praxisworks/praxis/pkg/tools"
)

// staticSource serves canned tool outputs for engine tests.
type staticSource struct {
	outputs map[string]string
	tools   map[string]tools.Tool
}

type staticTool struct {
	name   string
	output string
}

func (t *staticTool) Info() tools.ToolInfo {
	return tools.ToolInfo{Name: t.name, Description: t.name, Parameters: map[string]any{"type": "object"}}
}

func (t *staticTool) Execute(_ context.Context, _ map[string]any, _ *tools.Ambient) (string, error) {
	return t.output, nil
}

func newStaticSource(outputs map[string]string) *staticSource {
	s := &staticSource{outputs: outputs, tools: map[string]tools.Tool{}}
	for name, output := range outputs {
		s.tools[name] = &staticTool{name: name, output: output}
	}
	return s
}

func (s *staticSource) GetName() string                       { return "static" }
func (s *staticSource) GetType() string                       { return "local" }
func (s *staticSource) DiscoverTools(_ context.Context) error { return nil }

func (s *staticSource) ListTools() []tools.ToolInfo {
	var infos []tools.ToolInfo
	for _, t := range s.tools {
		infos = append(infos, t.Info())
	}
	return infos
}

func (s *staticSource) GetTool(name string) (tools.Tool, bool) {
	t, ok := s.tools[name]
	return t, ok
}
