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

// Package memory provides tenant-scoped semantic memory over a shared vector
// client. The vector client is a process singleton; Store is the cheap
// per-request wrapper binding a namespace.
package memory

import "context"

// Document is one stored memory.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// Hit is one search result.
type Hit struct {
	Document
	Score float32
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// VectorDB is the shared vector client. Every operation carries the
// namespace; implementations must never mix namespaces.
type VectorDB interface {
	EnsureNamespace(ctx context.Context, namespace string) error
	Upsert(ctx context.Context, namespace string, doc Document, vector []float32) error
	Search(ctx context.Context, namespace string, vector []float32, k int) ([]Hit, error)
	Close() error
}
