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

package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/praxisworks/praxis/pkg/observability"
	"github.com/praxisworks/praxis/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Store binds the shared vector client to one namespace. Construction
// without a namespace is a misconfiguration and is rejected: tenant isolation
// rests on the binding.
type Store struct {
	db        VectorDB
	embedder  Embedder
	namespace string
}

// NewStore builds the per-request wrapper.
func NewStore(db VectorDB, embedder Embedder, namespace string) (*Store, error) {
	if namespace == "" {
		slog.Error("Refusing to build memory store without a namespace")
		return nil, fmt.Errorf("memory store requires a namespace")
	}
	if db == nil || embedder == nil {
		return nil, fmt.Errorf("memory store requires a vector client and an embedder")
	}
	return &Store{db: db, embedder: embedder, namespace: namespace}, nil
}

// Namespace returns the bound namespace.
func (s *Store) Namespace() string { return s.namespace }

// Upsert stores a text with its embedding. Failures are logged at WARN and
// surfaced as MEMORY_DEGRADED; they never silently disappear.
func (s *Store) Upsert(ctx context.Context, text string, metadata map[string]any) error {
	tracer := observability.GetTracer("praxis.memory")
	ctx, span := tracer.Start(ctx, observability.SpanMemoryUpsert,
		trace.WithAttributes(attribute.String(observability.AttrNamespace, s.namespace)))
	defer span.End()

	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		slog.Warn("Memory upsert failed at embedding", "namespace", s.namespace, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		return protocol.NewAgentError(protocol.ErrMemoryDegraded, "failed to embed memory", err)
	}

	err = s.db.Upsert(ctx, s.namespace, Document{Text: text, Metadata: metadata}, vector)
	if err != nil {
		slog.Warn("Memory upsert failed", "namespace", s.namespace, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return protocol.NewAgentError(protocol.ErrMemoryDegraded, "failed to store memory", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Remember implements the tool-facing writer interface.
func (s *Store) Remember(ctx context.Context, text string, metadata map[string]any) error {
	return s.Upsert(ctx, text, metadata)
}

// Search returns up to k hits. On backend failure it degrades: an empty
// result plus a degraded span event, never an error to the caller.
func (s *Store) Search(ctx context.Context, query string, k int) []Hit {
	tracer := observability.GetTracer("praxis.memory")
	ctx, span := tracer.Start(ctx, observability.SpanMemorySearch,
		trace.WithAttributes(attribute.String(observability.AttrNamespace, s.namespace)))
	defer span.End()

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("Memory search degraded at embedding", "namespace", s.namespace, "error", err)
		span.AddEvent(observability.EventMemoryDegraded)
		span.SetStatus(codes.Error, "embed failed")
		return nil
	}

	hits, err := s.db.Search(ctx, s.namespace, vector, k)
	if err != nil {
		slog.Warn("Memory search degraded", "namespace", s.namespace, "error", err)
		span.AddEvent(observability.EventMemoryDegraded)
		span.SetStatus(codes.Error, "search failed")
		return nil
	}

	span.SetAttributes(attribute.Int("memory.hits", len(hits)))
	span.SetStatus(codes.Ok, "")
	return hits
}
