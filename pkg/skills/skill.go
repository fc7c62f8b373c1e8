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

// Package skills loads and executes declarative skills: markdown files whose
// YAML frontmatter declares the permitted tools, required context fields, and
// trigger patterns, and whose body is the system prompt. A skill is data, not
// code.
package skills

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Trigger registers a fast-path pattern owned by a skill.
type Trigger struct {
	// Pattern is a regular expression matched against the user utterance.
	Pattern string `yaml:"pattern"`

	// Tool to invoke on match; empty means the skill itself runs.
	Tool string `yaml:"tool,omitempty"`

	// Args template; values may reference capture groups as $1, $2, ...
	Args map[string]string `yaml:"args,omitempty"`
}

// Frontmatter is the YAML header of a skill file.
type Frontmatter struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Tools       []string  `yaml:"tools"`
	Requires    []string  `yaml:"requires,omitempty"`
	Triggers    []Trigger `yaml:"triggers,omitempty"`
	Tags        []string  `yaml:"tags,omitempty"`

	// HITL enables the human confirmation tool for this skill.
	HITL bool `yaml:"hitl,omitempty"`
}

// Skill is one loaded skill.
type Skill struct {
	Frontmatter
	SystemPrompt string
	Path         string

	permitted map[string]bool
}

// Permits reports whether the skill may invoke the tool.
func (s *Skill) Permits(tool string) bool {
	return s.permitted[tool]
}

// PermittedTools returns the declared tool set.
func (s *Skill) PermittedTools() []string {
	out := make([]string, 0, len(s.Tools))
	out = append(out, s.Tools...)
	return out
}

// RequiresField reports whether the skill declares a required context field.
func (s *Skill) RequiresField(field string) bool {
	for _, r := range s.Requires {
		if r == field {
			return true
		}
	}
	return false
}

const frontmatterDelimiter = "---"

// Parse decodes a skill file: frontmatter between --- delimiters, body after.
func Parse(path string, raw []byte) (*Skill, error) {
	content := strings.ReplaceAll(string(raw), "\r\n", "\n")
	if !strings.HasPrefix(content, frontmatterDelimiter+"\n") {
		return nil, fmt.Errorf("skill %s: missing frontmatter", path)
	}

	rest := content[len(frontmatterDelimiter)+1:]
	end := strings.Index(rest, "\n"+frontmatterDelimiter)
	if end < 0 {
		return nil, fmt.Errorf("skill %s: unterminated frontmatter", path)
	}

	var fm Frontmatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return nil, fmt.Errorf("skill %s: invalid frontmatter: %w", path, err)
	}
	if fm.Name == "" {
		return nil, fmt.Errorf("skill %s: name is required", path)
	}

	body := rest[end+len(frontmatterDelimiter)+1:]
	body = strings.TrimPrefix(body, "\n")

	skill := &Skill{
		Frontmatter:  fm,
		SystemPrompt: strings.TrimSpace(body),
		Path:         path,
		permitted:    make(map[string]bool, len(fm.Tools)),
	}
	for _, t := range fm.Tools {
		skill.permitted[t] = true
	}
	return skill, nil
}
