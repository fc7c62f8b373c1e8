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
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Recorder retains the most recent finished spans in memory so admin and
// diagnostic surfaces can inspect a request without scraping the span log.
type Recorder struct {
	mu      sync.RWMutex
	maxSize int
	order   []string
	byTrace map[string][]spanRecord
}

var globalRecorder = &Recorder{
	maxSize: 256,
	byTrace: make(map[string][]spanRecord),
}

// GlobalRecorder returns the process-wide recorder.
func GlobalRecorder() *Recorder { return globalRecorder }

// Processor returns a span processor feeding this recorder.
func (r *Recorder) Processor() sdktrace.SpanProcessor {
	return &recorderProcessor{recorder: r}
}

// Spans returns the recorded spans for a trace id, oldest first.
func (r *Recorder) Spans(traceID string) []spanRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spans := r.byTrace[traceID]
	out := make([]spanRecord, len(spans))
	copy(out, spans)
	return out
}

// TraceIDs returns the retained trace ids, oldest first.
func (r *Recorder) TraceIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Recorder) record(rec spanRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, seen := r.byTrace[rec.TraceID]; !seen {
		r.order = append(r.order, rec.TraceID)
		for len(r.order) > r.maxSize {
			evicted := r.order[0]
			r.order = r.order[1:]
			delete(r.byTrace, evicted)
		}
	}
	r.byTrace[rec.TraceID] = append(r.byTrace[rec.TraceID], rec)
}

type recorderProcessor struct {
	recorder *Recorder
}

func (p *recorderProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *recorderProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	p.recorder.record(convertSpan(span))
}

func (p *recorderProcessor) Shutdown(context.Context) error { return nil }

func (p *recorderProcessor) ForceFlush(context.Context) error { return nil }
