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

import "go.opentelemetry.io/otel/attribute"

// attrPair builds a string attribute, substituting "" for empty values so
// span attributes are never null.
func attrPair(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// StringAttr is the null-safe attribute constructor used outside this package.
func StringAttr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Preview truncates a value for span attribution.
func Preview(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
