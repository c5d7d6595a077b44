// SPDX-License-Identifier: Apache-2.0

package detect

import (
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
)

const (
	// DefaultTreeDepth is how deep Tree descends below the root
	DefaultTreeDepth = 3

	// DefaultTreeChars bounds the rendered tree
	DefaultTreeChars = 8000

	treeTruncated = "... (tree truncated)"
)

// Tree renders an indented listing of repoRoot for use in prompts. Hidden
// entries and skipped build directories are omitted; the result never
// exceeds maxChars.
func Tree(repoRoot string, maxDepth, maxChars int) string {
	if maxDepth <= 0 {
		maxDepth = DefaultTreeDepth
	}
	if maxChars <= 0 {
		maxChars = DefaultTreeChars
	}

	var b strings.Builder
	var walk func(dir string, level int) bool
	walk = func(dir string, level int) bool {
		entries, err := fs.ReadDir(os.DirFS(repoRoot), dir)
		if err != nil {
			return true
		}
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].IsDir() != entries[j].IsDir() {
				return entries[i].IsDir()
			}
			return entries[i].Name() < entries[j].Name()
		})
		for _, e := range entries {
			name := e.Name()
			if strings.HasPrefix(name, ".") && name != ".mvn" {
				continue
			}
			if e.IsDir() && skipDirs[name] {
				continue
			}
			line := strings.Repeat("  ", level) + name
			if e.IsDir() {
				line += "/"
			}
			if b.Len()+len(line)+1 > maxChars-len(treeTruncated) {
				b.WriteString(treeTruncated)
				return false
			}
			b.WriteString(line)
			b.WriteByte('\n')
			if e.IsDir() && level+1 < maxDepth {
				if !walk(path.Join(dir, name), level+1) {
					return false
				}
			}
		}
		return true
	}
	walk(".", 0)
	return strings.TrimRight(b.String(), "\n")
}
