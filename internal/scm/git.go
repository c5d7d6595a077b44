// SPDX-License-Identifier: Apache-2.0

// Package scm prepares and cleans up remediation branches with git.
package scm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/kusari-oss/darnfix/internal/core/executor"
	"github.com/kusari-oss/darnfix/internal/core/models"
	"github.com/kusari-oss/darnfix/internal/logging"
	"go.uber.org/zap"
)

const (
	// BranchPrefix starts every remediation branch name
	BranchPrefix = "darnfix/"

	defaultGitTimeout = 2 * time.Minute
)

var (
	unsafeBranchChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
	repeatedDots      = regexp.MustCompile(`\.{2,}`)
)

// ErrDirtyWorkingTree is returned by PrepareBranch when the repository has
// uncommitted or untracked files.
var ErrDirtyWorkingTree = errors.New("working tree has uncommitted changes; commit or stash them first")

// Remote describes the origin remote of a repository
type Remote struct {
	URL          string
	Organization string
	Repository   string
}

// Git runs fixed git invocations in a repository. Commands are built from
// sanitised values only and run as trusted through the command executor.
type Git struct {
	repoRoot   string
	baseBranch string
	timeout    time.Duration
	logger     *zap.Logger

	branch   string
	original string
}

// NewGit creates a git client for repoRoot
func NewGit(repoRoot string) *Git {
	return &Git{repoRoot: repoRoot, timeout: defaultGitTimeout}
}

// WithBaseBranch sets the branch restored on cleanup when the starting
// branch cannot be determined.
func (g *Git) WithBaseBranch(branch string) *Git {
	g.baseBranch = branch
	return g
}

// WithLogger sets the logger
func (g *Git) WithLogger(logger *zap.Logger) *Git {
	g.logger = logger
	return g
}

// BranchName returns the remediation branch name for a vulnerability
func BranchName(v models.Vulnerability) string {
	id := v.RemediationID
	if id == "" {
		id = v.ID
	}
	id = unsafeBranchChars.ReplaceAllString(id, "-")
	id = strings.Trim(repeatedDots.ReplaceAllString(id, "."), "-.")
	if id == "" {
		id = "fix"
	}
	return BranchPrefix + id
}

// Branch returns the branch created by the last PrepareBranch call
func (g *Git) Branch() string {
	return g.branch
}

// PrepareBranch creates (or resets) the remediation branch from the current
// HEAD and checks it out. A dirty working tree is refused because Cleanup
// discards everything that is not committed.
func (g *Git) PrepareBranch(ctx context.Context, v models.Vulnerability) (string, error) {
	status, err := g.output(ctx, "git status --porcelain --untracked-files=all")
	if err != nil {
		return "", err
	}
	if dirty := ParseStatus(status); len(dirty) > 0 {
		return "", fmt.Errorf("%w (%s)", ErrDirtyWorkingTree, strings.Join(dirty, ", "))
	}

	original, err := g.output(ctx, "git rev-parse --abbrev-ref HEAD")
	if err != nil {
		return "", err
	}
	g.original = strings.TrimSpace(original)

	branch := BranchName(v)
	if _, err := g.output(ctx, "git checkout --quiet -B "+shellQuote(branch)); err != nil {
		return "", err
	}
	g.branch = branch
	logging.OrNop(g.logger).Info("prepared remediation branch",
		zap.String("branch", branch),
		zap.String("from", g.original))
	return branch, nil
}

// ChangedFiles lists modified, added and untracked files relative to the
// repository root.
func (g *Git) ChangedFiles(ctx context.Context) ([]string, error) {
	out, err := g.output(ctx, "git status --porcelain --untracked-files=all")
	if err != nil {
		return nil, err
	}
	return ParseStatus(out), nil
}

// ParseStatus extracts paths from `git status --porcelain` output
func ParseStatus(out string) []string {
	seen := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		path := line[3:]
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		path = strings.Trim(path, `"`)
		if path != "" {
			seen[path] = true
		}
	}
	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Commit stages every change and commits it on the current branch
func (g *Git) Commit(ctx context.Context, message string) error {
	if _, err := g.output(ctx, "git add -A"); err != nil {
		return err
	}
	_, err := g.output(ctx, "git commit --quiet -m "+shellQuote(message))
	return err
}

// Restore checks out the starting branch and keeps the remediation branch.
// Uncommitted changes must have been committed or discarded first.
func (g *Git) Restore(ctx context.Context) error {
	target := g.original
	if target == "" || target == "HEAD" {
		target = g.baseBranch
	}
	if target == "" || target == g.branch {
		return nil
	}
	if _, err := g.output(ctx, "git checkout --quiet "+shellQuote(target)); err != nil {
		return err
	}
	g.branch = ""
	return nil
}

// Cleanup discards working changes, returns to the starting branch and
// deletes the remediation branch. Without a prepared branch it does nothing.
func (g *Git) Cleanup(ctx context.Context) error {
	logger := logging.OrNop(g.logger)
	if g.branch == "" {
		logger.Debug("no remediation branch to clean up")
		return nil
	}
	steps := []string{"git reset --hard --quiet", "git clean -fd --quiet"}

	target := g.original
	if target == "" || target == "HEAD" {
		target = g.baseBranch
	}
	if target != "" && target != g.branch {
		steps = append(steps, "git checkout --quiet "+shellQuote(target), "git branch -D "+shellQuote(g.branch))
	}

	var firstErr error
	for _, step := range steps {
		if _, err := g.output(ctx, step); err != nil {
			logger.Warn("cleanup step failed", zap.String("command", step), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr == nil {
		logger.Info("discarded remediation branch", zap.String("branch", g.branch))
		g.branch = ""
	}
	return firstErr
}

// RemoteInfo reads the origin remote and splits it into organization and
// repository name.
func (g *Git) RemoteInfo(ctx context.Context) (*Remote, error) {
	out, err := g.output(ctx, "git config --get remote.origin.url")
	if err != nil {
		return nil, err
	}
	return ParseRemote(strings.TrimSpace(out)), nil
}

// ParseRemote understands https and scp-like ssh remote URLs
func ParseRemote(url string) *Remote {
	remote := &Remote{URL: url}
	path := url
	if i := strings.Index(path, "://"); i >= 0 {
		path = path[i+3:]
		if j := strings.Index(path, "/"); j >= 0 {
			path = path[j+1:]
		}
	} else if i := strings.Index(path, ":"); i >= 0 {
		path = path[i+1:]
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 {
		remote.Organization = parts[len(parts)-2]
		remote.Repository = strings.TrimSuffix(parts[len(parts)-1], ".git")
	}
	return remote
}

func (g *Git) output(ctx context.Context, text string) (string, error) {
	result, err := executor.NewCommandExecutor(text).
		Trusted().
		WithWorkingDir(g.repoRoot).
		WithTimeout(g.timeout).
		WithLogger(g.logger).
		Execute(ctx)
	if err != nil {
		return "", err
	}
	if !result.Success() {
		return "", fmt.Errorf("%s failed with exit code %d: %s", text, result.ExitCode, result.ErrorExcerpt(500))
	}
	return result.Stdout, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
