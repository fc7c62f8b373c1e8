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

package config

import (
	"fmt"
	"time"
)

// LoggerConfig configures logging behavior.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-file, --log-format)
//  2. Environment variables (LOG_LEVEL, LOG_FILE, LOG_FORMAT)
//  3. Config file (logger section)
//  4. Defaults (info level, text format, stderr)
type LoggerConfig struct {
	// Level specifies the log level (debug, info, warn, error). Default: info
	Level string `yaml:"level,omitempty"`

	// File specifies the log file path. If empty, logs go to stderr.
	File string `yaml:"file,omitempty"`

	// Format specifies the log format: "text" or "json". Default: text
	Format string `yaml:"format,omitempty"`
}

func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

func (c *LoggerConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Level)
	}
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Format)
	}
	return nil
}

// DatabaseConfig configures the SQL store shared by all contexts.
// Supports PostgreSQL, MySQL, and SQLite via database/sql.
type DatabaseConfig struct {
	// Driver is one of "postgres", "mysql", "sqlite". Default: sqlite
	Driver string `yaml:"driver,omitempty"`

	// DSN is the driver connection string. Default: praxis.db (sqlite)
	DSN string `yaml:"dsn,omitempty"`

	MaxConns int `yaml:"max_conns,omitempty"`
	MaxIdle  int `yaml:"max_idle,omitempty"`
}

func (c *DatabaseConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.DSN == "" && c.Driver == "sqlite" {
		c.DSN = "praxis.db"
	}
	if c.MaxConns == 0 {
		c.MaxConns = 25
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 5
	}
}

func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported driver %q (supported: postgres, mysql, sqlite)", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("dsn is required for driver %q", c.Driver)
	}
	return nil
}

// LLMConfig configures the LLM provider used for planning, supervision,
// skill loops, and completions.
type LLMConfig struct {
	// Provider type. Currently "openai" (any OpenAI-compatible endpoint).
	Provider string `yaml:"provider,omitempty"`

	// Host of the API. Default: https://api.openai.com/v1
	Host string `yaml:"host,omitempty"`

	// Model name sent with every request.
	Model string `yaml:"model,omitempty"`

	// APIKey, usually ${OPENAI_API_KEY}.
	APIKey string `yaml:"api_key,omitempty"`

	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`

	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
	MaxRetries     int `yaml:"max_retries,omitempty"`
}

func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Host == "" {
		c.Host = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

func (c *LLMConfig) Validate() error {
	if c.Provider != "openai" {
		return fmt.Errorf("unsupported provider %q", c.Provider)
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be positive")
	}
	return nil
}

// Timeout returns the request timeout as a duration.
func (c *LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// VectorConfig binds the semantic memory store to a vector backend.
type VectorConfig struct {
	// Backend is "qdrant" or "chromem". Default: chromem (embedded)
	Backend string `yaml:"backend,omitempty"`

	// Host for qdrant gRPC (host:port).
	Host string `yaml:"host,omitempty"`

	// Path for chromem persistence. Empty means in-memory.
	Path string `yaml:"path,omitempty"`

	// Collection is the base collection name; namespaces are prefixed onto it.
	Collection string `yaml:"collection,omitempty"`

	// Dim is the embedding dimensionality.
	Dim int `yaml:"dim,omitempty"`
}

func (c *VectorConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "chromem"
	}
	if c.Host == "" {
		c.Host = "localhost:6334"
	}
	if c.Collection == "" {
		c.Collection = "praxis_memory"
	}
	if c.Dim == 0 {
		c.Dim = 1536
	}
}

func (c *VectorConfig) Validate() error {
	switch c.Backend {
	case "qdrant", "chromem":
	default:
		return fmt.Errorf("unsupported backend %q (supported: qdrant, chromem)", c.Backend)
	}
	if c.Dim < 1 {
		return fmt.Errorf("dim must be positive")
	}
	return nil
}

// MCPConfig configures the MCP client pool.
type MCPConfig struct {
	// Servers maps server names to their connection settings.
	Servers map[string]*MCPServerConfig `yaml:"servers,omitempty"`

	// ClientTTLSeconds is the idle TTL before a cached client is evicted.
	ClientTTLSeconds int `yaml:"client_ttl_seconds,omitempty"`

	// NegativeCacheBackoffSeconds is the base backoff after a connect failure.
	// Subsequent failures back off exponentially: 30s, 2m, 8m, 30m by default.
	NegativeCacheBackoffSeconds int `yaml:"negative_cache_backoff_seconds,omitempty"`

	// ConnectTimeoutSeconds bounds a single connection attempt.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds,omitempty"`
}

// MCPServerConfig describes one remote tool server.
type MCPServerConfig struct {
	// URL for streamable-http transport.
	URL string `yaml:"url,omitempty"`

	// Command and Args for stdio transport.
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

func (c *MCPConfig) SetDefaults() {
	if c.ClientTTLSeconds == 0 {
		c.ClientTTLSeconds = 600
	}
	if c.NegativeCacheBackoffSeconds == 0 {
		c.NegativeCacheBackoffSeconds = 30
	}
	if c.ConnectTimeoutSeconds == 0 {
		c.ConnectTimeoutSeconds = 15
	}
}

func (c *MCPConfig) Validate() error {
	for name, srv := range c.Servers {
		if srv == nil {
			continue
		}
		if srv.URL == "" && srv.Command == "" {
			return fmt.Errorf("server %s: either url or command is required", name)
		}
	}
	return nil
}

// ClientTTL returns the idle TTL as a duration.
func (c *MCPConfig) ClientTTL() time.Duration {
	return time.Duration(c.ClientTTLSeconds) * time.Second
}

// NegativeCacheBase returns the base backoff as a duration.
func (c *MCPConfig) NegativeCacheBase() time.Duration {
	return time.Duration(c.NegativeCacheBackoffSeconds) * time.Second
}

// SkillsConfig configures the skill loader and engine.
type SkillsConfig struct {
	// Dir is the directory scanned for *.md skill files.
	Dir string `yaml:"dir,omitempty"`

	// Watch enables fsnotify hot-reload of the skill directory.
	Watch bool `yaml:"watch,omitempty"`

	// TimeoutSeconds bounds a single skill invocation end to end.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`

	// MaxIterations bounds the LLM<->tool loop within a skill.
	MaxIterations int `yaml:"max_iterations,omitempty"`

	// HitlTTLHours is how long a suspended HITL state stays resumable.
	HitlTTLHours int `yaml:"hitl_ttl_hours,omitempty"`
}

func (c *SkillsConfig) SetDefaults() {
	if c.Dir == "" {
		c.Dir = "skills"
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 180
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 8
	}
	if c.HitlTTLHours == 0 {
		c.HitlTTLHours = 24
	}
}

func (c *SkillsConfig) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be positive")
	}
	return nil
}

// Timeout returns the skill timeout as a duration.
func (c *SkillsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// HitlTTL returns the HITL retention window as a duration.
func (c *SkillsConfig) HitlTTL() time.Duration {
	return time.Duration(c.HitlTTLHours) * time.Hour
}

// OrchestrationConfig holds the adaptive loop knobs.
type OrchestrationConfig struct {
	// MaxReplans caps adaptive replans per request.
	MaxReplans int `yaml:"max_replans,omitempty"`

	// MaxStepRetries caps RETRY verdicts per step.
	MaxStepRetries int `yaml:"max_step_retries,omitempty"`

	// RequestTimeoutSeconds is the global deadline per AgentRequest.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds,omitempty"`

	// ToolTimeoutSeconds is the default per-tool timeout.
	ToolTimeoutSeconds int `yaml:"tool_timeout_seconds,omitempty"`

	// StepParallelism is the fan-out cap for independent steps.
	StepParallelism int `yaml:"step_parallelism,omitempty"`

	// PlannerInputCharCap truncates the prompt fed to the planner.
	PlannerInputCharCap int `yaml:"planner_input_char_cap,omitempty"`

	// PlannerMaxAttempts bounds structured-output parse retries.
	PlannerMaxAttempts int `yaml:"planner_max_attempts,omitempty"`

	// ToolRateLimit is the soft per-tool invocation cap per step window.
	ToolRateLimit int `yaml:"tool_rate_limit,omitempty"`

	// TranscriptTokenBudget bounds transcript growth before compaction.
	TranscriptTokenBudget int `yaml:"transcript_token_budget,omitempty"`

	// HistoryWindow is how many recent messages the planner sees.
	HistoryWindow int `yaml:"history_window,omitempty"`

	// OrchestratorCacheTTLSeconds is the ServiceFactory per-context cache TTL.
	OrchestratorCacheTTLSeconds int `yaml:"orchestrator_cache_ttl_seconds,omitempty"`
}

func (c *OrchestrationConfig) SetDefaults() {
	if c.MaxReplans == 0 {
		c.MaxReplans = 3
	}
	if c.MaxStepRetries == 0 {
		c.MaxStepRetries = 2
	}
	if c.RequestTimeoutSeconds == 0 {
		c.RequestTimeoutSeconds = 300
	}
	if c.ToolTimeoutSeconds == 0 {
		c.ToolTimeoutSeconds = 120
	}
	if c.StepParallelism == 0 {
		c.StepParallelism = 4
	}
	if c.PlannerInputCharCap == 0 {
		c.PlannerInputCharCap = 6000
	}
	if c.PlannerMaxAttempts == 0 {
		c.PlannerMaxAttempts = 3
	}
	if c.ToolRateLimit == 0 {
		c.ToolRateLimit = 3
	}
	if c.TranscriptTokenBudget == 0 {
		c.TranscriptTokenBudget = 24000
	}
	if c.HistoryWindow == 0 {
		c.HistoryWindow = 20
	}
	if c.OrchestratorCacheTTLSeconds == 0 {
		c.OrchestratorCacheTTLSeconds = 60
	}
}

func (c *OrchestrationConfig) Validate() error {
	if c.StepParallelism < 1 {
		return fmt.Errorf("step_parallelism must be at least 1")
	}
	if c.MaxStepRetries < 0 {
		return fmt.Errorf("max_step_retries cannot be negative")
	}
	return nil
}

// RequestTimeout returns the global request deadline as a duration.
func (c *OrchestrationConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ToolTimeout returns the default per-tool timeout as a duration.
func (c *OrchestrationConfig) ToolTimeout() time.Duration {
	return time.Duration(c.ToolTimeoutSeconds) * time.Second
}

// ToolConfig configures one native tool instance.
type ToolConfig struct {
	Name           string   `yaml:"-"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	MaxRetries     int      `yaml:"max_retries,omitempty"`
	AllowedDomains []string `yaml:"allowed_domains,omitempty"`
	DeniedDomains  []string `yaml:"denied_domains,omitempty"`
	UserAgent      string   `yaml:"user_agent,omitempty"`

	// SMTP settings for the send_email tool.
	SMTPHost string `yaml:"smtp_host,omitempty"`
	SMTPPort int    `yaml:"smtp_port,omitempty"`
	SMTPUser string `yaml:"smtp_user,omitempty"`
	SMTPPass string `yaml:"smtp_pass,omitempty"`
	From     string `yaml:"from,omitempty"`

	// BaseURL for HTTP-backed device tools (homey).
	BaseURL string `yaml:"base_url,omitempty"`
	APIKey  string `yaml:"api_key,omitempty"`
}

func (c *ToolConfig) SetDefaults(name string) {
	c.Name = name
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 30
	}
	if c.UserAgent == "" {
		c.UserAgent = "praxis/1.0"
	}
	if c.SMTPPort == 0 {
		c.SMTPPort = 587
	}
}

func (c *ToolConfig) Validate() error {
	if c.TimeoutSeconds < 1 {
		return fmt.Errorf("timeout_seconds must be positive")
	}
	return nil
}

// Timeout returns the tool timeout as a duration.
func (c *ToolConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// IsEnabled reports whether the tool is enabled (default true).
func (c *ToolConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ObservabilityConfig configures tracing and metrics.
type ObservabilityConfig struct {
	// Enabled turns the tracer on. Default: false (noop tracer).
	Enabled bool `yaml:"enabled,omitempty"`

	// Exporter is "otlp", "stdout", or "jsonl".
	Exporter string `yaml:"exporter,omitempty"`

	// Endpoint for the otlp exporter (host:port).
	Endpoint string `yaml:"endpoint,omitempty"`

	// JSONLPath is the rotating span log for the jsonl exporter.
	JSONLPath string `yaml:"jsonl_path,omitempty"`

	// JSONLMaxBytes rotates the span log when exceeded.
	JSONLMaxBytes int64 `yaml:"jsonl_max_bytes,omitempty"`

	// SamplingRate in [0,1].
	SamplingRate float64 `yaml:"sampling_rate,omitempty"`

	// ServiceName reported on every span.
	ServiceName string `yaml:"service_name,omitempty"`

	// Metrics enables the Prometheus exporter.
	Metrics bool `yaml:"metrics,omitempty"`
}

func (c *ObservabilityConfig) SetDefaults() {
	if c.Exporter == "" {
		c.Exporter = "jsonl"
	}
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4317"
	}
	if c.JSONLPath == "" {
		c.JSONLPath = "praxis-trace.jsonl"
	}
	if c.JSONLMaxBytes == 0 {
		c.JSONLMaxBytes = 64 << 20
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = 1.0
	}
	if c.ServiceName == "" {
		c.ServiceName = "praxis"
	}
}

func (c *ObservabilityConfig) Validate() error {
	switch c.Exporter {
	case "otlp", "stdout", "jsonl":
	default:
		return fmt.Errorf("unsupported exporter %q", c.Exporter)
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be in [0,1]")
	}
	return nil
}
