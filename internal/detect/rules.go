// SPDX-License-Identifier: Apache-2.0

package detect

import (
	"embed"
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/kusari-oss/darnfix/internal/core/command"
	"github.com/kusari-oss/darnfix/internal/core/condition"
	"github.com/kusari-oss/darnfix/internal/core/models"
	"github.com/kusari-oss/darnfix/internal/core/schema"
	"github.com/kusari-oss/darnfix/internal/core/template"
	"gopkg.in/yaml.v3"
)

//go:embed rules/*.yaml rules/rules.schema.json
var rulesFS embed.FS

// Kind selects which rule set a detection uses
type Kind string

const (
	KindBuild  Kind = "build"
	KindFormat Kind = "format"
)

// RuleSet is an ordered list of marker based command rules
type RuleSet struct {
	SupportFiles []string `yaml:"support_files"`
	Rules        []Rule   `yaml:"rules"`
}

// Rule generates candidate commands for projects holding one of its markers
type Rule struct {
	Name      string        `yaml:"name"`
	Ecosystem string        `yaml:"ecosystem"`
	Markers   []string      `yaml:"markers"`
	When      string        `yaml:"when"`
	Commands  []RuleCommand `yaml:"commands"`
}

// RuleCommand is a templated command with an optional condition
type RuleCommand struct {
	Run  string `yaml:"run"`
	When string `yaml:"when"`
	// Each expands the command once per element of a fact list
	Each string `yaml:"each"`
}

// templateData is exposed to rule command templates
type templateData struct {
	Dir            string
	Root           bool
	Gradle         string
	PackageManager string
	DirFlag        string
	Item           string
}

// DefaultRuleSet returns the embedded rules for kind
func DefaultRuleSet(kind Kind) (*RuleSet, error) {
	data, err := rulesFS.ReadFile("rules/" + string(kind) + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("no embedded rules for %s: %w", kind, err)
	}
	return ParseRuleSet(data)
}

// ParseRuleSet validates and decodes a YAML rule set
func ParseRuleSet(data []byte) (*RuleSet, error) {
	rulesSchema, err := rulesFS.ReadFile("rules/rules.schema.json")
	if err != nil {
		return nil, fmt.Errorf("error reading rules schema: %w", err)
	}
	if err := schema.ValidateYAML(rulesSchema, data, "detection rules"); err != nil {
		return nil, err
	}

	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("error parsing detection rules: %w", err)
	}

	for _, pattern := range rs.MarkerPatterns() {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid marker pattern %q", pattern)
		}
	}
	return &rs, nil
}

// Compile checks every condition in the rule set against the evaluator
func (rs *RuleSet) Compile(evaluator *condition.CELEvaluator) error {
	for _, rule := range rs.Rules {
		if rule.When != "" {
			if _, err := evaluator.Compile(rule.When); err != nil {
				return fmt.Errorf("rule %s: %w", rule.Name, err)
			}
		}
		for _, c := range rule.Commands {
			if c.When != "" {
				if _, err := evaluator.Compile(c.When); err != nil {
					return fmt.Errorf("rule %s command %q: %w", rule.Name, c.Run, err)
				}
			}
		}
	}
	return nil
}

// MarkerPatterns returns every pattern that identifies a file of interest
func (rs *RuleSet) MarkerPatterns() []string {
	seen := make(map[string]bool)
	var patterns []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			patterns = append(patterns, p)
		}
	}
	for _, rule := range rs.Rules {
		for _, m := range rule.Markers {
			add(m)
		}
	}
	for _, s := range rs.SupportFiles {
		add(s)
	}
	return patterns
}

// matches reports whether any of the rule's markers is present in the project
func (r Rule) matches(project ProjectFacts) bool {
	for _, pattern := range r.Markers {
		for _, name := range project.Markers {
			if ok, _ := doublestar.Match(pattern, name); ok {
				return true
			}
		}
	}
	return false
}

// Candidates renders the ordered candidate commands for one project.
// rootFacts describes the repository root and is used for tool wrappers.
func (rs *RuleSet) Candidates(project, rootFacts ProjectFacts, evaluator *condition.CELEvaluator) ([]models.CommandCandidate, error) {
	vars := project.vars()
	data := templateData{
		Dir:            project.Dir,
		Root:           project.IsRoot(),
		Gradle:         "gradle",
		PackageManager: project.PackageManager,
		DirFlag:        dirFlag(project.PackageManager),
	}
	if rootFacts.Has("gradlew") {
		data.Gradle = "./gradlew"
	}

	var out []models.CommandCandidate
	for _, rule := range rs.Rules {
		if !rule.matches(project) {
			continue
		}
		ok, err := evaluator.EvaluateExpression(rule.When, vars)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.Name, err)
		}
		if !ok {
			continue
		}

		for _, c := range rule.Commands {
			ok, err := evaluator.EvaluateExpression(c.When, vars)
			if err != nil {
				return nil, fmt.Errorf("rule %s command %q: %w", rule.Name, c.Run, err)
			}
			if !ok {
				continue
			}

			items := []string{""}
			switch c.Each {
			case "targets":
				items = project.Targets
			case "scripts":
				items = project.Scripts
			}

			for _, item := range items {
				data.Item = item
				text, err := template.ProcessString(c.Run, data)
				if err != nil {
					return nil, fmt.Errorf("rule %s: %w", rule.Name, err)
				}
				text = command.Normalize(text)
				out = append(out, models.CommandCandidate{
					Executable: command.Executable(text),
					Text:       text,
					Origin:     models.OriginMarkerFile,
				})
			}
		}
	}
	return out, nil
}

// dirFlag is the option each Node package manager uses to run in a subdirectory
func dirFlag(pm string) string {
	switch pm {
	case "yarn", "bun":
		return "--cwd"
	case "pnpm":
		return "--dir"
	default:
		return "--prefix"
	}
}
