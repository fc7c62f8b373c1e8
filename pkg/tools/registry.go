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

// Package tools provides the tool contract, the process-wide tool registry
// template, and the per-request scoped registry that enforces permissions,
// rate limits, timeouts, and argument sanitization.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/praxisworks/praxis/pkg/observability"
	"github.com/praxisworks/praxis/pkg/protocol"
	"github.com/praxisworks/praxis/pkg/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultRateLimit is the soft per-tool invocation cap per step window.
const DefaultRateLimit = 3

type ToolEntry struct {
	Tool       Tool
	Source     ToolSource
	SourceType string
	Name       string
}

type ToolRegistryError struct {
	Component string
	Action    string
	Message   string
	Err       error
}

func (e *ToolRegistryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Action, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Action, e.Message)
}

func NewToolRegistryError(component, action, message string, err error) *ToolRegistryError {
	return &ToolRegistryError{Component: component, Action: action, Message: message, Err: err}
}

// ToolRegistry is the process-wide template of every available tool. It is
// never executed against directly; requests get a Scoped clone.
type ToolRegistry struct {
	*registry.BaseRegistry[ToolEntry]
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{BaseRegistry: registry.NewBaseRegistry[ToolEntry]()}
}

// RegisterSource discovers a source's tools and registers each of them.
func (r *ToolRegistry) RegisterSource(ctx context.Context, source ToolSource) error {
	name := source.GetName()
	if name == "" {
		return NewToolRegistryError("ToolRegistry", "RegisterSource", "source name cannot be empty", nil)
	}

	if err := source.DiscoverTools(ctx); err != nil {
		return NewToolRegistryError("ToolRegistry", "RegisterSource",
			fmt.Sprintf("failed to discover tools from source %s", name), err)
	}

	for _, info := range source.ListTools() {
		tool, exists := source.GetTool(info.Name)
		if !exists {
			slog.Warn("Tool listed but not available", "tool", info.Name, "source", name)
			continue
		}
		entry := ToolEntry{
			Tool:       tool,
			Source:     source,
			SourceType: source.GetType(),
			Name:       info.Name,
		}
		if err := r.Register(info.Name, entry); err != nil {
			return NewToolRegistryError("ToolRegistry", "RegisterSource",
				fmt.Sprintf("failed to register tool %s", info.Name), err)
		}
	}
	return nil
}

// ListTools returns the catalogue sorted by name.
func (r *ToolRegistry) ListTools() []ToolInfo {
	var infos []ToolInfo
	for _, entry := range r.List() {
		info := entry.Tool.Info()
		if entry.SourceType == "mcp" {
			info.ServerURL = entry.Source.GetName()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Scoped clones the template for one request, keeping only tools the
// permission check allows. Filtered names are remembered so invoking one
// reports TOOL_NOT_PERMITTED rather than TOOL_NOT_FOUND.
func (r *ToolRegistry) Scoped(allowed func(toolName string) bool, defaultTimeout time.Duration, defaultLimit int) *ScopedRegistry {
	if defaultLimit <= 0 {
		defaultLimit = DefaultRateLimit
	}
	scoped := &ScopedRegistry{
		defaultTimeout: defaultTimeout,
		defaultLimit:   defaultLimit,
		denied:         map[string]bool{},
		counters:       map[string]int{},
	}
	scoped.entries = r.CloneFiltered(func(name string, _ ToolEntry) bool {
		if allowed == nil || allowed(name) {
			return true
		}
		scoped.denied[name] = true
		return false
	})
	return scoped
}

// ScopedRegistry is the per-request tool view: permission-filtered, rate
// limited per step window, and timeout-bounded.
type ScopedRegistry struct {
	entries        *registry.BaseRegistry[ToolEntry]
	denied         map[string]bool
	defaultTimeout time.Duration
	defaultLimit   int

	mu       sync.Mutex
	counters map[string]int
}

// AddSource merges a per-tenant source (an MCP server) into the scope,
// applying the same permission filter as the clone. Discovery failures
// propagate so the caller can decide whether the request degrades.
func (s *ScopedRegistry) AddSource(ctx context.Context, source ToolSource, allowed func(toolName string) bool) error {
	if err := source.DiscoverTools(ctx); err != nil {
		return err
	}
	for _, info := range source.ListTools() {
		if allowed != nil && !allowed(info.Name) {
			s.denied[info.Name] = true
			continue
		}
		tool, ok := source.GetTool(info.Name)
		if !ok {
			continue
		}
		entry := ToolEntry{Tool: tool, Source: source, SourceType: source.GetType(), Name: info.Name}
		if err := s.entries.Replace(info.Name, entry); err != nil {
			return err
		}
	}
	return nil
}

// ListTools returns the scoped catalogue sorted by name.
func (s *ScopedRegistry) ListTools() []ToolInfo {
	var infos []ToolInfo
	for _, entry := range s.entries.List() {
		info := entry.Tool.Info()
		if entry.SourceType == "mcp" {
			info.ServerURL = entry.Source.GetName()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Names returns the scoped tool names sorted.
func (s *ScopedRegistry) Names() []string { return s.entries.Names() }

// Has reports whether the tool is available in this scope.
func (s *ScopedRegistry) Has(name string) bool {
	_, ok := s.entries.Get(name)
	return ok
}

// Lookup resolves a tool, distinguishing permission filtering from absence.
func (s *ScopedRegistry) Lookup(name string) (Tool, *protocol.AgentError) {
	if entry, ok := s.entries.Get(name); ok {
		return entry.Tool, nil
	}
	if s.denied[name] {
		return nil, protocol.Errorf(protocol.ErrToolNotPermitted, "tool %q is not permitted in this context", name)
	}
	return nil, protocol.Errorf(protocol.ErrToolNotFound, "tool %q not found", name)
}

// ResetWindow clears the rate limit counters. The executor calls this at
// each step boundary; the cap is per step window, not per request.
func (s *ScopedRegistry) ResetWindow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = map[string]int{}
}

func (s *ScopedRegistry) admit(name string, limit int) *protocol.AgentError {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counters[name] >= limit {
		return protocol.Errorf(protocol.ErrToolRateLimited,
			"tool %q exceeded its invocation limit of %d for this step", name, limit)
	}
	s.counters[name]++
	return nil
}

// Execute runs one tool call under the scope's policies and returns its
// output string. All failures come back as *protocol.AgentError.
func (s *ScopedRegistry) Execute(ctx context.Context, name string, args map[string]any, ambient *Ambient) (string, error) {
	return s.execute(ctx, name, args, ambient, nil)
}

// ExecuteStreaming is Execute with incremental chunks forwarded to activityCh
// when the tool supports streaming.
func (s *ScopedRegistry) ExecuteStreaming(ctx context.Context, name string, args map[string]any, ambient *Ambient, activityCh chan<- string) (string, error) {
	return s.execute(ctx, name, args, ambient, activityCh)
}

func (s *ScopedRegistry) execute(ctx context.Context, name string, args map[string]any, ambient *Ambient, activityCh chan<- string) (string, error) {
	start := time.Now()

	tracer := observability.GetTracer("praxis.tools")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(attribute.String(observability.AttrToolName, name)))
	defer span.End()

	tool, lookupErr := s.Lookup(name)
	if lookupErr != nil {
		span.RecordError(lookupErr)
		span.SetStatus(codes.Error, string(lookupErr.Kind))
		s.recordMetrics(ctx, name, string(lookupErr.Kind), start)
		return "", lookupErr
	}

	info := tool.Info()
	limit := info.RateLimit
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if err := s.admit(name, limit); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(protocol.ErrToolRateLimited))
		s.recordMetrics(ctx, name, "rate_limited", start)
		return "", err
	}

	args = InjectAmbient(info, args, ambient)
	slog.Debug("Executing tool", "tool", name, "args", protocol.SanitizeArgs(args))

	timeout := s.defaultTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := runTool(execCtx, tool, args, ambient, activityCh)
	duration := time.Since(start)

	if err != nil {
		translated := translateToolError(name, err, execCtx, ctx)
		span.RecordError(translated)
		span.SetStatus(codes.Error, string(translated.Kind))
		span.SetAttributes(attribute.String(observability.AttrErrorKind, string(translated.Kind)))
		s.recordMetrics(ctx, name, string(translated.Kind), start)
		slog.Warn("Tool execution failed", "tool", name, "duration", duration, "error", translated)
		return "", translated
	}

	status := "success"
	if IsErrorResult(output) {
		status = "tool_error"
		span.SetStatus(codes.Error, output)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(attribute.Int64("tool.duration_ms", duration.Milliseconds()))
	s.recordMetrics(ctx, name, status, start)
	return output, nil
}

// runTool isolates the tool call so a panicking tool cannot take down the
// request. Panics surface as TOOL_FAILED.
func runTool(ctx context.Context, tool Tool, args map[string]any, ambient *Ambient, activityCh chan<- string) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()

	if activityCh != nil {
		if streaming, ok := tool.(StreamingTool); ok {
			return streaming.ExecuteStreaming(ctx, args, ambient, activityCh)
		}
	}
	return tool.Execute(ctx, args, ambient)
}

func translateToolError(name string, err error, execCtx, reqCtx context.Context) *protocol.AgentError {
	var ae *protocol.AgentError
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case reqCtx.Err() != nil && errors.Is(reqCtx.Err(), context.Canceled):
		return protocol.NewAgentError(protocol.ErrRequestCancelled, fmt.Sprintf("tool %q cancelled", name), err)
	case errors.Is(execCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return protocol.NewAgentError(protocol.ErrToolTimeout, fmt.Sprintf("tool %q timed out", name), err)
	default:
		return protocol.NewAgentError(protocol.ErrToolFailed, fmt.Sprintf("tool %q failed", name), err)
	}
}

func (s *ScopedRegistry) recordMetrics(ctx context.Context, tool, status string, start time.Time) {
	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordToolCall(ctx, tool, status, time.Since(start))
	}
}
