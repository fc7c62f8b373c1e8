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

// Package fastpath maps trivial utterances directly to a single tool or
// skill invocation, bypassing the planner entirely. Patterns are compiled
// once at startup and tried in registration order; first match wins.
package fastpath

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/praxisworks/praxis/pkg/protocol"
	"github.com/praxisworks/praxis/pkg/skills"
)

// Mapper turns regex submatches into tool arguments. Mappers are pure.
type Mapper func(matches []string) map[string]any

// Entry is one registered fast path.
type Entry struct {
	Name        string
	Pattern     *regexp.Regexp
	Kind        protocol.StepKind
	Target      string
	Mapper      Mapper
	Description string
}

// Invocation is a successful match: a synthetic single-step plan.
type Invocation struct {
	Name   string
	Kind   protocol.StepKind
	Target string
	Args   map[string]any
}

// Router holds the ordered pattern registry.
type Router struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewRouter() *Router { return &Router{} }

// Register appends an entry. Registration order is matching order.
func (r *Router) Register(e Entry) error {
	if e.Pattern == nil {
		return fmt.Errorf("fast path %q has no pattern", e.Name)
	}
	if e.Target == "" {
		return fmt.Errorf("fast path %q has no target", e.Name)
	}
	if e.Kind == "" {
		e.Kind = protocol.StepTool
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

// Match tries the patterns in order against the trimmed utterance.
func (r *Router) Match(utterance string) *Invocation {
	trimmed := strings.TrimSpace(utterance)
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		matches := e.Pattern.FindStringSubmatch(trimmed)
		if matches == nil {
			continue
		}
		inv := &Invocation{Name: e.Name, Kind: e.Kind, Target: e.Target}
		if e.Mapper != nil {
			inv.Args = e.Mapper(matches)
		}
		return inv
	}
	return nil
}

// Entries returns a copy of the registry for diagnostics.
func (r *Router) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// RegisterDefaults installs the built-in fast paths.
func (r *Router) RegisterDefaults() {
	_ = r.Register(Entry{
		Name:        "device-switch",
		Pattern:     regexp.MustCompile(`(?i)^turn (on|off) (.+?)[.!]?$`),
		Kind:        protocol.StepTool,
		Target:      "homey",
		Description: "Switch a named device on or off",
		Mapper: func(matches []string) map[string]any {
			return map[string]any{
				"action":      "control_device",
				"device_name": matches[2],
				"capability":  "onoff",
				"value":       strings.EqualFold(matches[1], "on"),
			}
		},
	})
	_ = r.Register(Entry{
		Name:        "device-dim",
		Pattern:     regexp.MustCompile(`(?i)^dim (.+?) to (\d+)%?$`),
		Kind:        protocol.StepTool,
		Target:      "homey",
		Description: "Dim a named device to a percentage",
		Mapper: func(matches []string) map[string]any {
			level, _ := strconv.Atoi(matches[2])
			return map[string]any{
				"action":      "control_device",
				"device_name": matches[1],
				"capability":  "dim",
				"value":       float64(level) / 100.0,
			}
		},
	})
	_ = r.Register(Entry{
		Name:        "price-check",
		Pattern:     regexp.MustCompile(`(?i)^price of (.+?)\??$`),
		Kind:        protocol.StepTool,
		Target:      "price_tracker",
		Description: "Look up the latest price of a tracked product",
		Mapper: func(matches []string) map[string]any {
			return map[string]any{"product": matches[1]}
		},
	})
}

var groupRefPattern = regexp.MustCompile(`\$(\d+)`)

// RegisterSkillTriggers adds the fast paths a skill loader discovered.
// Trigger arg templates may reference capture groups as $1, $2, ...
func (r *Router) RegisterSkillTriggers(skill *skills.Skill) error {
	for i, trigger := range skill.Triggers {
		compiled, err := regexp.Compile(trigger.Pattern)
		if err != nil {
			return fmt.Errorf("skill %s trigger %d: invalid pattern: %w", skill.Name, i+1, err)
		}

		kind := protocol.StepSkill
		target := skill.Name
		if trigger.Tool != "" {
			kind = protocol.StepTool
			target = trigger.Tool
		}

		argTemplate := trigger.Args
		entry := Entry{
			Name:    fmt.Sprintf("%s-trigger-%d", skill.Name, i+1),
			Pattern: compiled,
			Kind:    kind,
			Target:  target,
			Mapper: func(matches []string) map[string]any {
				args := make(map[string]any, len(argTemplate))
				for k, v := range argTemplate {
					args[k] = groupRefPattern.ReplaceAllStringFunc(v, func(ref string) string {
						n, _ := strconv.Atoi(ref[1:])
						if n < len(matches) {
							return matches[n]
						}
						return ""
					})
				}
				return args
			},
			Description: "Trigger for skill " + skill.Name,
		}
		if err := r.Register(entry); err != nil {
			return err
		}
	}
	return nil
}
