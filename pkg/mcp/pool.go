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

// Package mcp maintains the per-tenant cache of remote tool-server clients:
// health state, TTL eviction, and negative caching of failed hosts.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/praxisworks/praxis/pkg/config"
	"github.com/praxisworks/praxis/pkg/observability"
	"github.com/praxisworks/praxis/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State of a pooled client entry.
type State string

const (
	StateConnecting State = "connecting"
	StateHealthy    State = "healthy"
	StateBroken     State = "broken"
	StateEvicted    State = "evicted"
)

// Client is the narrow MCP surface the pool hands out. The health probe is
// Ping: list_tools is too heavyweight to use as a liveness check.
type Client interface {
	ListTools(ctx context.Context) ([]RemoteTool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	Ping(ctx context.Context) error
	Close() error
}

// RemoteTool is one tool advertised by an MCP server. Schema stays raw JSON.
type RemoteTool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ConnectFunc dials one server. The default uses mcp-go; tests substitute fakes.
type ConnectFunc func(ctx context.Context, name string, cfg *config.MCPServerConfig) (Client, error)

// backoff grows by 4x per consecutive failure, capped: 30s, 2m, 8m, 30m.
const (
	backoffMultiplier = 4
	backoffMax        = 30 * time.Minute
	lockTableTTL      = time.Hour
	healthProbeAfter  = 30 * time.Second
)

type poolKey struct {
	contextID string
	server    string
}

type poolEntry struct {
	client   Client
	state    State
	lastUsed time.Time
}

type negativeEntry struct {
	until    time.Time
	backoff  time.Duration
	failures int
}

type keyLock struct {
	mu       sync.Mutex
	lastUsed time.Time
}

// Pool caches MCP clients keyed by (context, server).
type Pool struct {
	cfg     config.MCPConfig
	connect ConnectFunc

	mu       sync.Mutex
	entries  map[poolKey]*poolEntry
	negative map[poolKey]*negativeEntry
	locks    map[poolKey]*keyLock
	closed   bool
}

// NewPool builds a pool over the given MCP configuration.
func NewPool(cfg config.MCPConfig) *Pool {
	return NewPoolWithConnector(cfg, dialServer)
}

// NewPoolWithConnector allows substituting the dialer.
func NewPoolWithConnector(cfg config.MCPConfig, connect ConnectFunc) *Pool {
	return &Pool{
		cfg:      cfg,
		connect:  connect,
		entries:  map[poolKey]*poolEntry{},
		negative: map[poolKey]*negativeEntry{},
		locks:    map[poolKey]*keyLock{},
	}
}

// Get returns a healthy client for (contextID, server), connecting on demand.
// Concurrent calls for the same key serialize on a per-key lock; different
// keys connect in parallel.
func (p *Pool) Get(ctx context.Context, contextID, server string) (Client, error) {
	key := poolKey{contextID: contextID, server: server}

	serverCfg := p.serverConfig(server)
	if serverCfg == nil {
		return nil, protocol.Errorf(protocol.ErrMCPUnavailable, "unknown MCP server %q", server)
	}

	lock := p.lockFor(key)
	lock.mu.Lock()
	defer lock.mu.Unlock()

	now := time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, protocol.Errorf(protocol.ErrMCPUnavailable, "mcp pool is shut down")
	}
	p.evictIdleLocked(now)

	if neg, ok := p.negative[key]; ok {
		if now.Before(neg.until) {
			wait := time.Until(neg.until).Round(time.Second)
			p.mu.Unlock()
			return nil, protocol.Errorf(protocol.ErrMCPUnavailable,
				"server %q is backing off after %d failures, retry in %s", server, neg.failures, wait)
		}
	}

	if entry, ok := p.entries[key]; ok && entry.state == StateHealthy {
		idle := now.Sub(entry.lastUsed)
		entry.lastUsed = now
		client := entry.client
		p.mu.Unlock()

		// Entries idle past the probe threshold get a liveness check first.
		// Ping is the cheapest RPC; list_tools is too heavyweight to probe with.
		if idle < healthProbeAfter {
			return client, nil
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx)
		cancel()
		if err == nil {
			return client, nil
		}
		slog.Warn("Cached MCP client failed ping, reconnecting", "server", server, "context", contextID, "error", err)
		_ = client.Close()
		p.mu.Lock()
	}

	p.entries[key] = &poolEntry{state: StateConnecting, lastUsed: now}
	p.mu.Unlock()

	client, err := p.dial(ctx, key, serverCfg)
	if err != nil {
		p.recordFailure(key, server, err)
		return nil, protocol.NewAgentError(protocol.ErrMCPUnavailable,
			fmt.Sprintf("failed to connect to MCP server %q", server), err)
	}

	p.mu.Lock()
	p.entries[key] = &poolEntry{client: client, state: StateHealthy, lastUsed: time.Now()}
	delete(p.negative, key)
	p.mu.Unlock()

	slog.Info("Connected to MCP server", "server", server, "context", contextID)
	return client, nil
}

func (p *Pool) dial(ctx context.Context, key poolKey, serverCfg *config.MCPServerConfig) (Client, error) {
	tracer := observability.GetTracer("praxis.mcp")
	ctx, span := tracer.Start(ctx, observability.SpanMCPConnect,
		trace.WithAttributes(
			attribute.String(observability.AttrServer, key.server),
			attribute.String(observability.AttrContextID, key.contextID),
		))
	defer span.End()

	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.ConnectTimeoutSeconds)*time.Second)
	defer cancel()

	client, err := p.connect(dialCtx, key.server, serverCfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "connect failed")
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return client, nil
}

func (p *Pool) recordFailure(key poolKey, server string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.entries[key]; ok {
		entry.state = StateBroken
	}

	neg, ok := p.negative[key]
	if !ok {
		neg = &negativeEntry{backoff: p.cfg.NegativeCacheBase()}
	} else {
		next := neg.backoff * backoffMultiplier
		if next > backoffMax {
			next = backoffMax
		}
		neg.backoff = next
	}
	neg.failures++
	neg.until = time.Now().Add(neg.backoff)
	p.negative[key] = neg

	slog.Warn("MCP connect failed, entering negative cache",
		"server", server, "failures", neg.failures, "backoff", neg.backoff, "error", err)
}

// ReportBroken marks a client broken after an RPC failure so the next Get
// reconnects instead of reusing it.
func (p *Pool) ReportBroken(contextID, server string) {
	key := poolKey{contextID: contextID, server: server}

	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[key]
	if !ok || entry.state != StateHealthy {
		return
	}
	entry.state = StateBroken
	if entry.client != nil {
		_ = entry.client.Close()
	}
}

// evictIdleLocked removes healthy entries idle past the TTL and drops
// negative-cache entries whose backoff ended more than a TTL ago. Stale
// per-key locks are pruned in lockFor. Caller holds p.mu.
func (p *Pool) evictIdleLocked(now time.Time) {
	ttl := p.cfg.ClientTTL()
	for key, entry := range p.entries {
		if entry.state == StateHealthy && now.Sub(entry.lastUsed) > ttl {
			entry.state = StateEvicted
			if entry.client != nil {
				_ = entry.client.Close()
			}
			delete(p.entries, key)
			slog.Debug("Evicted idle MCP client", "server", key.server, "context", key.contextID)
		}
	}
	for key, neg := range p.negative {
		if now.After(neg.until) && now.Sub(neg.until) > ttl {
			delete(p.negative, key)
		}
	}
}

func (p *Pool) lockFor(key poolKey) *keyLock {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for k, l := range p.locks {
		if k != key && now.Sub(l.lastUsed) > lockTableTTL {
			delete(p.locks, k)
		}
	}

	l, ok := p.locks[key]
	if !ok {
		l = &keyLock{}
		p.locks[key] = l
	}
	l.lastUsed = now
	return l
}

func (p *Pool) serverConfig(server string) *config.MCPServerConfig {
	if p.cfg.Servers == nil {
		return nil
	}
	return p.cfg.Servers[server]
}

// CachedServer is one entry of a Snapshot.
type CachedServer struct {
	Server   string    `json:"server"`
	State    State     `json:"state"`
	LastUsed time.Time `json:"last_used"`
}

// NegativeServer is one negative-cache entry of a Snapshot.
type NegativeServer struct {
	Server       string    `json:"server"`
	BackoffUntil time.Time `json:"backoff_until"`
	Failures     int       `json:"failures"`
}

// Snapshot is the public introspection surface for admin and diagnostics;
// consumers never poke at pool internals.
type Snapshot struct {
	Cached   []CachedServer   `json:"cached"`
	Negative []NegativeServer `json:"negative"`
}

// SnapshotFor reports the pool state for one context.
func (p *Pool) SnapshotFor(contextID string) Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := Snapshot{}
	for key, entry := range p.entries {
		if key.contextID != contextID {
			continue
		}
		snap.Cached = append(snap.Cached, CachedServer{
			Server:   key.server,
			State:    entry.state,
			LastUsed: entry.lastUsed,
		})
	}
	for key, neg := range p.negative {
		if key.contextID != contextID {
			continue
		}
		snap.Negative = append(snap.Negative, NegativeServer{
			Server:       key.server,
			BackoffUntil: neg.until,
			Failures:     neg.failures,
		})
	}
	return snap
}

// Close shuts the pool down, closing every cached client.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var firstErr error
	for key, entry := range p.entries {
		if entry.client != nil {
			if err := entry.client.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(p.entries, key)
	}
	return firstErr
}
