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

// Package config defines the configuration surface of the orchestration core.
//
// Configuration is loaded from a YAML file with ${ENV_VAR} expansion, after an
// optional .env file has been applied. Every section carries SetDefaults and
// Validate; Load runs both so a returned Config is always usable.
package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Logger        LoggerConfig           `yaml:"logger,omitempty"`
	Database      DatabaseConfig         `yaml:"database,omitempty"`
	LLM           LLMConfig              `yaml:"llm,omitempty"`
	Vector        VectorConfig           `yaml:"vector,omitempty"`
	MCP           MCPConfig              `yaml:"mcp,omitempty"`
	Skills        SkillsConfig           `yaml:"skills,omitempty"`
	Orchestration OrchestrationConfig    `yaml:"orchestration,omitempty"`
	Tools         map[string]*ToolConfig `yaml:"tools,omitempty"`
	Observability ObservabilityConfig    `yaml:"observability,omitempty"`
	Server        ServerConfig           `yaml:"server,omitempty"`
	Security      SecurityConfig         `yaml:"security,omitempty"`
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv substitutes ${VAR} and ${VAR:-default} references.
func ExpandEnv(raw string) string {
	return envVarPattern.ReplaceAllStringFunc(raw, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if v, ok := os.LookupEnv(groups[1]); ok {
			return v
		}
		return groups[3]
	})
}

// Load reads, expands, parses, defaults, and validates the config file.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	// .env is best-effort: absence is not an error.
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		expanded := ExpandEnv(string(raw))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Logger.SetDefaults()
	c.Database.SetDefaults()
	c.LLM.SetDefaults()
	c.Vector.SetDefaults()
	c.MCP.SetDefaults()
	c.Skills.SetDefaults()
	c.Orchestration.SetDefaults()
	c.Observability.SetDefaults()
	c.Server.SetDefaults()
	c.Security.SetDefaults()
	for name, tool := range c.Tools {
		if tool != nil {
			tool.SetDefaults(name)
		}
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	validators := []struct {
		name string
		fn   func() error
	}{
		{"logger", c.Logger.Validate},
		{"database", c.Database.Validate},
		{"llm", c.LLM.Validate},
		{"vector", c.Vector.Validate},
		{"mcp", c.MCP.Validate},
		{"skills", c.Skills.Validate},
		{"orchestration", c.Orchestration.Validate},
		{"observability", c.Observability.Validate},
		{"server", c.Server.Validate},
		{"security", c.Security.Validate},
	}
	for _, v := range validators {
		if err := v.fn(); err != nil {
			return fmt.Errorf("%s: %w", v.name, err)
		}
	}
	for name, tool := range c.Tools {
		if tool == nil {
			continue
		}
		if err := tool.Validate(); err != nil {
			return fmt.Errorf("tools.%s: %w", name, err)
		}
	}
	return nil
}

// ServerConfig configures the demo SSE transport.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1-65535, got %d", c.Port)
	}
	return nil
}

// SecurityConfig holds the process-wide secrets loaded at startup.
type SecurityConfig struct {
	// EncryptionKey is the base64-encoded 32-byte AES key used for OAuth
	// tokens and user credentials at rest. Usually ${PRAXIS_ENCRYPTION_KEY}.
	EncryptionKey string `yaml:"encryption_key,omitempty"`

	// DefaultToolPolicy decides tools with no ToolPermission row: "allow" or "deny".
	DefaultToolPolicy string `yaml:"default_tool_policy,omitempty"`
}

func (c *SecurityConfig) SetDefaults() {
	if c.DefaultToolPolicy == "" {
		c.DefaultToolPolicy = "allow"
	}
}

func (c *SecurityConfig) Validate() error {
	switch c.DefaultToolPolicy {
	case "allow", "deny":
	default:
		return fmt.Errorf("default_tool_policy must be allow or deny, got %q", c.DefaultToolPolicy)
	}
	return nil
}
