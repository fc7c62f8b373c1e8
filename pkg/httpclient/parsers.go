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

package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// ParseRetryAfterHeader parses the standard Retry-After header (seconds form).
func ParseRetryAfterHeader(h http.Header) RateLimitInfo {
	info := RateLimitInfo{}
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			info.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return info
}

// ParseOpenAIRateLimitHeaders parses OpenAI-style x-ratelimit headers in
// addition to Retry-After.
func ParseOpenAIRateLimitHeaders(h http.Header) RateLimitInfo {
	info := ParseRetryAfterHeader(h)
	if v := h.Get("x-ratelimit-remaining-requests"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			info.RequestsRemaining = n
		}
	}
	if v := h.Get("x-ratelimit-remaining-tokens"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			info.TokensRemaining = n
		}
	}
	if info.RetryAfter == 0 {
		if v := h.Get("x-ratelimit-reset-requests"); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				info.RetryAfter = d
			}
		}
	}
	return info
}
