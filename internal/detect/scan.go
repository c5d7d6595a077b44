// SPDX-License-Identifier: Apache-2.0

package detect

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// skipDirs are never descended into while scanning or rendering trees
var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"__pycache__":  true,
	"target":       true,
	"build":        true,
	"dist":         true,
	".venv":        true,
	"venv":         true,
	"vendor":       true,
	".gradle":      true,
	".idea":        true,
	"bin":          true,
	"obj":          true,
}

// Scan walks repoRoot up to maxDepth directory levels below the root and
// returns one ProjectFacts per directory holding a file that matches any of
// patterns. The root comes first, then shallower directories, then by path.
func Scan(repoRoot string, maxDepth int, patterns []string) ([]ProjectFacts, error) {
	info, err := os.Stat(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("cannot scan %s: %w", repoRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("cannot scan %s: not a directory", repoRoot)
	}

	byDir := make(map[string][]string)
	err = fs.WalkDir(os.DirFS(repoRoot), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			if d != nil && d.IsDir() && p != "." {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if p == "." {
				return nil
			}
			if skipDirs[d.Name()] || depth(p) > maxDepth {
				return fs.SkipDir
			}
			return nil
		}
		for _, pattern := range patterns {
			if ok, _ := doublestar.Match(pattern, d.Name()); ok {
				dir := path.Dir(p)
				byDir[dir] = append(byDir[dir], d.Name())
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error scanning %s: %w", repoRoot, err)
	}

	projects := make([]ProjectFacts, 0, len(byDir))
	for dir, markers := range byDir {
		sort.Strings(markers)
		projects = append(projects, ProjectFacts{Dir: dir, Markers: markers})
	}
	sort.Slice(projects, func(i, j int) bool {
		di, dj := depth(projects[i].Dir), depth(projects[j].Dir)
		if di != dj {
			return di < dj
		}
		return projects[i].Dir < projects[j].Dir
	})

	var root ProjectFacts
	if len(projects) > 0 && projects[0].IsRoot() {
		root = projects[0]
	} else {
		root = ProjectFacts{Dir: "."}
	}
	for i := range projects {
		enrich(repoRoot, &projects[i], root)
	}
	return projects, nil
}

// depth returns how many directories deep a slash separated path is; the
// root is 0.
func depth(p string) int {
	if p == "." || p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

// allMarkers flattens the marker paths of every project
func allMarkers(projects []ProjectFacts) []string {
	var out []string
	for _, p := range projects {
		out = append(out, p.MarkerPaths()...)
	}
	return out
}
