// SPDX-License-Identifier: Apache-2.0

package detect

import (
	"bufio"
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/kusari-oss/darnfix/internal/core/condition"
)

// ProjectFacts describes one directory that holds build system markers
type ProjectFacts struct {
	// Dir is slash separated and relative to the repository root; "." is the root
	Dir            string   `json:"dir"`
	Markers        []string `json:"markers"`
	PackageManager string   `json:"package_manager,omitempty"`
	Scripts        []string `json:"scripts,omitempty"`
	Targets        []string `json:"targets,omitempty"`
}

// IsRoot reports whether the project is the repository root
func (p ProjectFacts) IsRoot() bool {
	return p.Dir == "."
}

// Has reports whether a marker with the exact name is present
func (p ProjectFacts) Has(name string) bool {
	for _, m := range p.Markers {
		if m == name {
			return true
		}
	}
	return false
}

// MarkerPaths returns the markers as paths relative to the repository root
func (p ProjectFacts) MarkerPaths() []string {
	out := make([]string, 0, len(p.Markers))
	for _, m := range p.Markers {
		out = append(out, path.Join(p.Dir, m))
	}
	return out
}

func (p ProjectFacts) vars() map[string]interface{} {
	return map[string]interface{}{
		condition.VarMarkers:        nonNil(p.Markers),
		condition.VarScripts:        nonNil(p.Scripts),
		condition.VarTargets:        nonNil(p.Targets),
		condition.VarPackageManager: p.PackageManager,
		condition.VarDir:            p.Dir,
		condition.VarRoot:           p.IsRoot(),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// lockfiles maps Node lock files to their package manager, in priority order
var lockfiles = []struct {
	file    string
	manager string
}{
	{"package-lock.json", "npm"},
	{"yarn.lock", "yarn"},
	{"pnpm-lock.yaml", "pnpm"},
	{"bun.lockb", "bun"},
	{"bun.lock", "bun"},
}

// detectPackageManager picks the Node package manager from lock files in the
// project, then the repository root, defaulting to npm.
func detectPackageManager(project, root ProjectFacts) string {
	if !project.Has("package.json") {
		return ""
	}
	for _, facts := range []ProjectFacts{project, root} {
		for _, lf := range lockfiles {
			if facts.Has(lf.file) {
				return lf.manager
			}
		}
	}
	return "npm"
}

// readPackageScripts returns the sorted script names of a package.json
func readPackageScripts(file string) []string {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil
	}
	var manifest struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil
	}
	scripts := make([]string, 0, len(manifest.Scripts))
	for name := range manifest.Scripts {
		scripts = append(scripts, name)
	}
	sort.Strings(scripts)
	return scripts
}

var makeTargetPattern = regexp.MustCompile(`^([a-zA-Z_][a-zA-Z0-9_-]*)\s*:`)

var priorityTargets = []string{"test", "check", "build", "all", "default"}

// readMakefileTargets lists Makefile targets, common verification targets
// first and the rest in file order.
func readMakefileTargets(file string) []string {
	f, err := os.Open(file)
	if err != nil {
		return nil
	}
	defer f.Close()

	var found []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		m := makeTargetPattern.FindStringSubmatch(line)
		// Skip variable assignments such as CC := gcc
		if m == nil || strings.HasPrefix(line[len(m[0]):], "=") {
			continue
		}
		if !seen[m[1]] {
			seen[m[1]] = true
			found = append(found, m[1])
		}
	}

	var targets []string
	for _, t := range priorityTargets {
		if seen[t] {
			targets = append(targets, t)
		}
	}
	for _, t := range found {
		if !contains(priorityTargets, t) {
			targets = append(targets, t)
		}
	}
	return targets
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// enrich fills the derived facts for a project
func enrich(repoRoot string, project *ProjectFacts, root ProjectFacts) {
	dir := filepath.Join(repoRoot, filepath.FromSlash(project.Dir))
	project.PackageManager = detectPackageManager(*project, root)
	if project.Has("package.json") {
		project.Scripts = readPackageScripts(filepath.Join(dir, "package.json"))
	}
	if project.Has("Makefile") {
		project.Targets = readMakefileTargets(filepath.Join(dir, "Makefile"))
	}
}
