// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/kusari-oss/darnfix/internal/core/executor"
	"github.com/kusari-oss/darnfix/internal/core/models"
	"github.com/kusari-oss/darnfix/internal/core/template"
	"github.com/kusari-oss/darnfix/internal/detect"
	"github.com/kusari-oss/darnfix/internal/logging"
	"go.uber.org/zap"
)

const (
	// MaxQABuildOutput bounds the build output shown to the QA agent
	MaxQABuildOutput = 15000

	qaOutputMarker = "...build output may be cut off prior to here..."
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

// Invoker runs one agent call synchronously
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// FixRequest asks the fix agent to remediate a vulnerability
type FixRequest struct {
	RepoRoot      string
	Vulnerability models.Vulnerability
	BuildCommand  string
}

// QARequest asks the QA agent to repair a failing build
type QARequest struct {
	RepoRoot      string
	Vulnerability models.Vulnerability
	BuildCommand  string
	BuildOutput   string
	ChangedFiles  []string
	// History holds the summaries of earlier QA runs, oldest first
	History []string
}

// Runner builds prompts for each sub-agent kind and invokes them
type Runner struct {
	invoker Invoker
	logger  *zap.Logger
}

// NewRunner creates a runner over invoker, normally a Bridge
func NewRunner(invoker Invoker) *Runner {
	return &Runner{invoker: invoker}
}

// WithLogger sets the logger
func (r *Runner) WithLogger(logger *zap.Logger) *Runner {
	r.logger = logger
	return r
}

// RunFix runs the fix agent
func (r *Runner) RunFix(ctx context.Context, req FixRequest) (*Result, error) {
	system, user, err := fixPrompts(req)
	if err != nil {
		return nil, err
	}
	return r.invoker.Invoke(ctx, Request{
		Kind:         KindFix,
		RepoRoot:     req.RepoRoot,
		SystemPrompt: system,
		UserPrompt:   user,
	})
}

// RunQA runs the QA agent
func (r *Runner) RunQA(ctx context.Context, req QARequest) (*Result, error) {
	system, user, err := qaPrompts(req)
	if err != nil {
		return nil, err
	}
	logging.OrNop(r.logger).Debug("running qa agent",
		zap.Strings("changed_files", req.ChangedFiles),
		zap.Int("previous_attempts", len(req.History)))
	return r.invoker.Invoke(ctx, Request{
		Kind:         KindQA,
		RepoRoot:     req.RepoRoot,
		SystemPrompt: system,
		UserPrompt:   user,
	})
}

// SuggestCommand asks the command detection agent for one build command. It
// satisfies detect.Suggester.
func (r *Runner) SuggestCommand(ctx context.Context, req detect.SuggestionRequest) (string, error) {
	system, err := template.ProcessFS(promptFS, "prompts/detect_system.tmpl", nil)
	if err != nil {
		return "", err
	}
	user, err := template.ProcessFS(promptFS, "prompts/detect_user.tmpl", req)
	if err != nil {
		return "", err
	}

	result, err := r.invoker.Invoke(ctx, Request{
		Kind:         KindCommandDetection,
		RepoRoot:     req.RepoRoot,
		SystemPrompt: system,
		UserPrompt:   user,
		ReadOnly:     true,
	})
	if err != nil {
		return "", err
	}

	text := ExtractCommand(result.Summary)
	if text == "" {
		return "", fmt.Errorf("%w: no command in suggestion", ErrMalformedResult)
	}
	return text, nil
}

// ExtractCommand pulls the command out of a model answer that may wrap it in
// a code fence or inline backticks.
func ExtractCommand(answer string) string {
	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		line = strings.TrimPrefix(line, "$ ")
		if strings.HasPrefix(line, "`") && strings.HasSuffix(line, "`") && len(line) > 1 {
			line = strings.Trim(line, "`")
		}
		return strings.TrimSpace(line)
	}
	return ""
}

func fixPrompts(req FixRequest) (string, string, error) {
	v := req.Vulnerability
	system := v.FixSystemPrompt
	if system == "" {
		var err error
		if system, err = template.ProcessFS(promptFS, "prompts/fix_system.tmpl", nil); err != nil {
			return "", "", err
		}
	}
	user := v.FixUserPrompt
	if user == "" {
		var err error
		if user, err = template.ProcessFS(promptFS, "prompts/fix_user.tmpl", req); err != nil {
			return "", "", err
		}
	}
	return system, user, nil
}

func qaPrompts(req QARequest) (string, string, error) {
	req.BuildOutput = executor.TruncateHead(req.BuildOutput, MaxQABuildOutput, qaOutputMarker)
	v := req.Vulnerability

	system := v.QASystemPrompt
	if system == "" {
		var err error
		if system, err = template.ProcessFS(promptFS, "prompts/qa_system.tmpl", nil); err != nil {
			return "", "", err
		}
	}
	if v.QAUserPrompt != "" {
		return system, fillPlaceholders(v.QAUserPrompt, req), nil
	}
	user, err := template.ProcessFS(promptFS, "prompts/qa_user.tmpl", req)
	if err != nil {
		return "", "", err
	}
	return system, user, nil
}

// fillPlaceholders expands the {changed_files}, {build_output} and
// {qa_history_section} placeholders used by externally supplied QA prompts.
func fillPlaceholders(prompt string, req QARequest) string {
	var history strings.Builder
	if len(req.History) > 0 {
		history.WriteString("\nQA History from previous attempts:\n")
		for i, summary := range req.History {
			fmt.Fprintf(&history, "Attempt %d: %s\n", i+1, summary)
		}
	}
	return strings.NewReplacer(
		"{changed_files}", strings.Join(req.ChangedFiles, ", "),
		"{build_output}", req.BuildOutput,
		"{qa_history_section}", history.String(),
	).Replace(prompt)
}
