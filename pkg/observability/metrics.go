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

package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the instruments recorded by the orchestration loop.
type Metrics struct {
	requests       metric.Int64Counter
	requestLatency metric.Float64Histogram
	steps          metric.Int64Counter
	toolCalls      metric.Int64Counter
	toolLatency    metric.Float64Histogram
	llmTokens      metric.Int64Counter
	replans        metric.Int64Counter
}

var (
	globalMetrics   *Metrics
	globalMetricsMu sync.RWMutex
)

// InitGlobalMetrics installs a Prometheus-backed meter provider and the
// global Metrics instance. Returns the registry to expose on /metrics.
func InitGlobalMetrics() (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("praxis")

	m := &Metrics{}
	if m.requests, err = meter.Int64Counter("praxis_requests_total",
		metric.WithDescription("Agent requests by route and outcome")); err != nil {
		return nil, err
	}
	if m.requestLatency, err = meter.Float64Histogram("praxis_request_seconds",
		metric.WithDescription("End-to-end request latency")); err != nil {
		return nil, err
	}
	if m.steps, err = meter.Int64Counter("praxis_steps_total",
		metric.WithDescription("Plan steps by outcome")); err != nil {
		return nil, err
	}
	if m.toolCalls, err = meter.Int64Counter("praxis_tool_calls_total",
		metric.WithDescription("Tool invocations by tool and status")); err != nil {
		return nil, err
	}
	if m.toolLatency, err = meter.Float64Histogram("praxis_tool_seconds",
		metric.WithDescription("Tool call latency")); err != nil {
		return nil, err
	}
	if m.llmTokens, err = meter.Int64Counter("praxis_llm_tokens_total",
		metric.WithDescription("LLM tokens consumed")); err != nil {
		return nil, err
	}
	if m.replans, err = meter.Int64Counter("praxis_replans_total",
		metric.WithDescription("Adaptive replans triggered")); err != nil {
		return nil, err
	}

	globalMetricsMu.Lock()
	globalMetrics = m
	globalMetricsMu.Unlock()

	return registry, nil
}

// GetGlobalMetrics returns the global Metrics, or nil when metrics are off.
func GetGlobalMetrics() *Metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()
	return globalMetrics
}

func (m *Metrics) RecordRequest(ctx context.Context, route, outcome string, d time.Duration) {
	m.requests.Add(ctx, 1, metric.WithAttributes(attrPair("route", route), attrPair("outcome", outcome)))
	m.requestLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attrPair("route", route)))
}

func (m *Metrics) RecordStep(ctx context.Context, outcome string) {
	m.steps.Add(ctx, 1, metric.WithAttributes(attrPair("outcome", outcome)))
}

func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, d time.Duration) {
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(attrPair("tool", tool), attrPair("status", status)))
	m.toolLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attrPair("tool", tool)))
}

func (m *Metrics) RecordLLMTokens(ctx context.Context, model string, tokens int) {
	m.llmTokens.Add(ctx, int64(tokens), metric.WithAttributes(attrPair("model", model)))
}

func (m *Metrics) RecordReplan(ctx context.Context, reasonKind string) {
	m.replans.Add(ctx, 1, metric.WithAttributes(attrPair("reason", reasonKind)))
}
