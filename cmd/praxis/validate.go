package main

import (
	"context"
	"fmt"

	"github.com/praxisworks/praxis/pkg/config"
	"github.com/praxisworks/praxis/pkg/skills"
)

// ValidateCmd checks the configuration file without starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	fmt.Printf("Configuration OK (%d tools, %d MCP servers)\n", len(cfg.Tools), len(cfg.MCP.Servers))
	return nil
}

// SkillsCmd loads the skill directory and reports what it finds.
type SkillsCmd struct{}

func (c *SkillsCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	// Without the runtime's registry, skill tool references cannot be
	// cross-checked against live tools; only the configured names are known.
	known := map[string]bool{}
	for name := range cfg.Tools {
		known[name] = true
	}

	reg := skills.NewRegistry()
	loader := skills.NewLoader(cfg.Skills.Dir, func(name string) bool { return known[name] })
	if err := loader.Load(context.Background(), reg); err != nil {
		return err
	}

	for _, skill := range reg.List() {
		fmt.Printf("  %s — %s (tools: %v)\n", skill.Name, skill.Description, skill.Tools)
	}
	fmt.Printf("%d skills OK\n", reg.Count())
	return nil
}
