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
	"encoding/json"
	"fmt"
	"os"
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// JSONLExporter writes one JSON object per finished span to a rotating file.
// Span events ride along in the record's events array, so a single stream
// carries both spans and debug events.
type JSONLExporter struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	file     *os.File
	written  int64
}

type spanRecord struct {
	TraceID    string            `json:"trace_id"`
	SpanID     string            `json:"span_id"`
	ParentID   string            `json:"parent_span_id,omitempty"`
	Name       string            `json:"name"`
	StartUnix  int64             `json:"start_time_unix_nano"`
	EndUnix    int64             `json:"end_time_unix_nano"`
	DurationMs float64           `json:"duration_ms"`
	Status     string            `json:"status"`
	StatusMsg  string            `json:"status_message,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Events     []spanEventRecord `json:"events,omitempty"`
}

type spanEventRecord struct {
	Name       string            `json:"name"`
	TimeUnix   int64             `json:"time_unix_nano"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NewJSONLExporter opens (or creates) the span log at path.
func NewJSONLExporter(path string, maxBytes int64) (*JSONLExporter, error) {
	e := &JSONLExporter{path: path, maxBytes: maxBytes}
	if err := e.open(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *JSONLExporter) open() error {
	f, err := os.OpenFile(e.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open span log %s: %w", e.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat span log %s: %w", e.path, err)
	}
	e.file = f
	e.written = info.Size()
	return nil
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *JSONLExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.file == nil {
		return nil
	}

	for _, span := range spans {
		rec := convertSpan(span)
		line, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		line = append(line, '\n')
		n, err := e.file.Write(line)
		if err != nil {
			return fmt.Errorf("failed to write span record: %w", err)
		}
		e.written += int64(n)
		if e.maxBytes > 0 && e.written >= e.maxBytes {
			if err := e.rotate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// rotate moves the current log aside and starts a fresh one. One generation
// of history is kept.
func (e *JSONLExporter) rotate() error {
	_ = e.file.Close()
	if err := os.Rename(e.path, e.path+".1"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to rotate span log: %w", err)
	}
	return e.open()
}

// Shutdown implements sdktrace.SpanExporter.
func (e *JSONLExporter) Shutdown(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.file == nil {
		return nil
	}
	err := e.file.Close()
	e.file = nil
	return err
}

func convertSpan(span sdktrace.ReadOnlySpan) spanRecord {
	rec := spanRecord{
		TraceID:    span.SpanContext().TraceID().String(),
		SpanID:     span.SpanContext().SpanID().String(),
		Name:       span.Name(),
		StartUnix:  span.StartTime().UnixNano(),
		EndUnix:    span.EndTime().UnixNano(),
		DurationMs: float64(span.EndTime().Sub(span.StartTime()).Microseconds()) / 1000.0,
		Status:     span.Status().Code.String(),
		StatusMsg:  span.Status().Description,
	}
	if span.Parent().HasSpanID() {
		rec.ParentID = span.Parent().SpanID().String()
	}
	if len(span.Attributes()) > 0 {
		rec.Attributes = make(map[string]string, len(span.Attributes()))
		for _, attr := range span.Attributes() {
			rec.Attributes[string(attr.Key)] = attr.Value.Emit()
		}
	}
	for _, ev := range span.Events() {
		evRec := spanEventRecord{Name: ev.Name, TimeUnix: ev.Time.UnixNano()}
		if len(ev.Attributes) > 0 {
			evRec.Attributes = make(map[string]string, len(ev.Attributes))
			for _, attr := range ev.Attributes {
				evRec.Attributes[string(attr.Key)] = attr.Value.Emit()
			}
		}
		rec.Events = append(rec.Events, evRec)
	}
	return rec
}
