// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Tool names understood by Toolbox.Call
const (
	ToolReadFile      = "read_file"
	ToolWriteFile     = "write_file"
	ToolListDirectory = "list_directory"

	maxReadBytes = 512 * 1024
)

// ToolSpec describes a tool to a model. Every parameter is a string.
type ToolSpec struct {
	Name        string
	Description string
	Params      map[string]string
	Required    []string
}

// Toolbox gives an agent file access confined to the repository root and
// records the files it writes.
type Toolbox struct {
	root     string
	writable bool

	mu      sync.Mutex
	written map[string]bool
}

// NewToolbox creates a toolbox rooted at root
func NewToolbox(root string, writable bool) *Toolbox {
	return &Toolbox{root: root, writable: writable, written: make(map[string]bool)}
}

// Specs lists the tools available to the agent
func (t *Toolbox) Specs() []ToolSpec {
	specs := []ToolSpec{
		{
			Name:        ToolReadFile,
			Description: "Read a file from the repository. Paths are relative to the repository root.",
			Params:      map[string]string{"path": "relative file path"},
			Required:    []string{"path"},
		},
		{
			Name:        ToolListDirectory,
			Description: "List the entries of a repository directory. Directories end with a slash.",
			Params:      map[string]string{"path": "relative directory path, \".\" for the root"},
			Required:    []string{"path"},
		},
	}
	if t.writable {
		specs = append(specs, ToolSpec{
			Name:        ToolWriteFile,
			Description: "Replace the full contents of a repository file, creating it if needed.",
			Params: map[string]string{
				"path":    "relative file path",
				"content": "complete new file contents",
			},
			Required: []string{"path", "content"},
		})
	}
	return specs
}

// Call dispatches a tool invocation. Failures are reported in the response
// under "error" so the model can react to them.
func (t *Toolbox) Call(name string, args map[string]interface{}) (map[string]interface{}, bool) {
	path, _ := args["path"].(string)
	switch name {
	case ToolReadFile:
		content, err := t.ReadFile(path)
		if err != nil {
			return toolError(err), false
		}
		return map[string]interface{}{"content": content}, true
	case ToolListDirectory:
		entries, err := t.ListDirectory(path)
		if err != nil {
			return toolError(err), false
		}
		return map[string]interface{}{"entries": entries}, true
	case ToolWriteFile:
		content, _ := args["content"].(string)
		if err := t.WriteFile(path, content); err != nil {
			return toolError(err), false
		}
		return map[string]interface{}{"written": path}, true
	default:
		return toolError(fmt.Errorf("unknown tool %q", name)), false
	}
}

func toolError(err error) map[string]interface{} {
	return map[string]interface{}{"error": err.Error()}
}

// resolve maps a model supplied path into the repository
func (t *Toolbox) resolve(path string) (string, string, error) {
	if path == "" {
		return "", "", fmt.Errorf("path is required")
	}
	rel := filepath.Clean(filepath.FromSlash(path))
	if !filepath.IsLocal(rel) && rel != "." {
		return "", "", fmt.Errorf("path %q is outside the repository", path)
	}
	if rel == ".git" || strings.HasPrefix(rel, ".git"+string(filepath.Separator)) {
		return "", "", fmt.Errorf("path %q is not accessible", path)
	}
	return filepath.Join(t.root, rel), filepath.ToSlash(rel), nil
}

// ReadFile returns the contents of a repository file
func (t *Toolbox) ReadFile(path string) (string, error) {
	full, _, err := t.resolve(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(full)
	if err != nil {
		return "", fmt.Errorf("cannot read %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > maxReadBytes {
		return "", fmt.Errorf("%s is too large to read (%d bytes)", path, info.Size())
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("cannot read %s: %w", path, err)
	}
	return string(data), nil
}

// ListDirectory returns the sorted entries of a repository directory
func (t *Toolbox) ListDirectory(path string) ([]string, error) {
	full, _, err := t.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, fmt.Errorf("cannot list %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name() == ".git" {
			continue
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// WriteFile replaces a repository file
func (t *Toolbox) WriteFile(path, content string) error {
	if !t.writable {
		return fmt.Errorf("file writes are not allowed for this agent")
	}
	full, rel, err := t.resolve(path)
	if err != nil {
		return err
	}
	if rel == "." {
		return fmt.Errorf("cannot write to the repository root")
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("cannot create directory for %s: %w", path, err)
	}
	mode := os.FileMode(0644)
	if info, err := os.Stat(full); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(full, []byte(content), mode); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}

	t.mu.Lock()
	t.written[rel] = true
	t.mu.Unlock()
	return nil
}

// Written returns the sorted relative paths written so far
func (t *Toolbox) Written() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	files := make([]string, 0, len(t.written))
	for f := range t.written {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}
