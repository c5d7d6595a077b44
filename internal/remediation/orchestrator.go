// SPDX-License-Identifier: Apache-2.0

// Package remediation drives a vulnerability fix through initial build
// verification, the fix agent and a bounded QA loop.
package remediation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kusari-oss/darnfix/internal/agent"
	"github.com/kusari-oss/darnfix/internal/core/config"
	"github.com/kusari-oss/darnfix/internal/core/executor"
	"github.com/kusari-oss/darnfix/internal/core/models"
	"github.com/kusari-oss/darnfix/internal/detect"
	"github.com/kusari-oss/darnfix/internal/logging"
	"go.uber.org/zap"
)

const (
	cleanupTimeout = 2 * time.Minute
	excerptLength  = 4000
)

// FixAgent produces the initial source change
type FixAgent interface {
	RunFix(ctx context.Context, req agent.FixRequest) (*agent.Result, error)
}

// QAAgent repairs a build broken by the fix
type QAAgent interface {
	RunQA(ctx context.Context, req agent.QARequest) (*agent.Result, error)
}

// SourceControl manages the branch and working changes of a session
type SourceControl interface {
	PrepareBranch(ctx context.Context, v models.Vulnerability) (string, error)
	ChangedFiles(ctx context.Context) ([]string, error)
	Cleanup(ctx context.Context) error
}

// Outcome is how a session ended
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	// OutcomeUnverified is a success whose change was never checked by a build
	OutcomeUnverified Outcome = "unverified"
	OutcomeFailed     Outcome = "failed"
)

// Result is the report of one remediation session
type Result struct {
	SessionID       string                 `json:"session_id" yaml:"session_id"`
	VulnerabilityID string                 `json:"vulnerability_id" yaml:"vulnerability_id"`
	Outcome         Outcome                `json:"outcome" yaml:"outcome"`
	Failure         models.FailureCategory `json:"failure,omitempty" yaml:"failure,omitempty"`
	ChangedFiles    []string               `json:"changed_files" yaml:"changed_files"`
	QAAttempts      int                    `json:"qa_attempts" yaml:"qa_attempts"`
	BuildCommand    string                 `json:"build_command,omitempty" yaml:"build_command,omitempty"`
	Branch          string                 `json:"branch,omitempty" yaml:"branch,omitempty"`
	ErrorExcerpt    string                 `json:"error_excerpt,omitempty" yaml:"error_excerpt,omitempty"`
	Summary         string                 `json:"summary,omitempty" yaml:"summary,omitempty"`
	QASummaries     []string               `json:"qa_summaries,omitempty" yaml:"qa_summaries,omitempty"`
	Duration        time.Duration          `json:"duration" yaml:"duration"`
	Transitions     []Transition           `json:"transitions" yaml:"transitions"`
}

// Succeeded reports whether the change should be proposed
func (r *Result) Succeeded() bool {
	return r != nil && r.Outcome != OutcomeFailed
}

// Orchestrator runs remediation sessions one at a time
type Orchestrator struct {
	repoRoot string
	config   *config.Config
	fix      FixAgent
	qa       QAAgent
	scm      SourceControl
	commands Commands
	runner   detect.Runner
	now      func() time.Time
	logger   *zap.Logger
}

// NewOrchestrator creates an orchestrator for the repository at repoRoot
func NewOrchestrator(repoRoot string, cfg *config.Config, fix FixAgent, qa QAAgent, scm SourceControl) *Orchestrator {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	return &Orchestrator{
		repoRoot: repoRoot,
		config:   cfg,
		fix:      fix,
		qa:       qa,
		scm:      scm,
		runner: &detect.ExecRunner{
			Timeout:     cfg.CommandTimeout,
			OutputLimit: cfg.OutputLimit,
			Trusted:     cfg.TrustedCommands,
		},
		now: time.Now,
	}
}

// WithCommands sets the resolved build and format commands
func (o *Orchestrator) WithCommands(c Commands) *Orchestrator {
	o.commands = c
	return o
}

// WithRunner replaces how build and format commands are executed
func (o *Orchestrator) WithRunner(r detect.Runner) *Orchestrator {
	o.runner = r
	return o
}

// WithClock replaces the wall clock
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// WithLogger sets the logger
func (o *Orchestrator) WithLogger(logger *zap.Logger) *Orchestrator {
	o.logger = logger
	if r, ok := o.runner.(*detect.ExecRunner); ok && r.Logger == nil {
		r.Logger = logger
	}
	return o
}

// Run remediates one vulnerability. It never returns nil; failures are
// reported through the result's outcome and category.
func (o *Orchestrator) Run(ctx context.Context, v models.Vulnerability) *Result {
	logger := logging.OrNop(o.logger).With(zap.String("vulnerability", v.ID))
	s := newSession(v.ID, o.now, logger)
	logger = logger.With(zap.String("session", s.ID))
	s.logger = logger

	ctx, cancel := context.WithDeadline(ctx, s.StartTime.Add(o.config.SessionTimeout))
	defer cancel()

	logger.Info("starting remediation", zap.String("title", v.Title))
	o.run(ctx, s, v)

	// Nothing on disk belongs to the session until its branch exists.
	if s.State == StateFailed && s.Branch != "" {
		o.cleanup(ctx, s)
	}
	return o.result(s)
}

func (o *Orchestrator) run(ctx context.Context, s *Session, v models.Vulnerability) {
	if err := o.config.Validate(); err != nil {
		s.fail(models.FailureInvalidConfiguration, err.Error())
		return
	}
	if o.config.RequireBuild && o.commands.Build == "" {
		s.fail(models.FailureInvalidConfiguration, "a build command is required but none was configured or detected")
		return
	}
	if err := v.Validate(); err != nil {
		s.fail(models.FailureGeneral, err.Error())
		return
	}

	// Start -> InitialBuildCheck
	if !o.step(ctx, s, StateInitialBuildCheck) {
		return
	}
	branch, err := o.scm.PrepareBranch(ctx, v)
	if err != nil {
		o.failWith(ctx, s, models.FailureGeneral, fmt.Errorf("cannot prepare branch: %w", err))
		return
	}
	s.Branch = branch

	if o.verifiable() {
		result, ok := o.build(ctx, s)
		if !ok {
			return
		}
		if !result.Success() {
			s.fail(models.FailureInitialBuild, buildExcerpt(result))
			return
		}
	} else {
		s.logger.Info("no verifiable build command, skipping initial build check")
	}

	// InitialBuildCheck -> FixAttempt
	if !o.step(ctx, s, StateFixAttempt) {
		return
	}
	fix, err := o.fix.RunFix(ctx, agent.FixRequest{
		RepoRoot:      o.repoRoot,
		Vulnerability: v,
		BuildCommand:  o.buildCommandForPrompt(),
	})
	if err == nil && fix == nil {
		err = fmt.Errorf("%w: fix agent returned no result", agent.ErrMalformedResult)
	}
	if err != nil {
		o.failWith(ctx, s, agentFailure(err, models.FailureAgent), err)
		return
	}
	s.FixSummary = fix.Summary
	s.addChanged(fix.ChangedFiles...)
	o.collectChanges(ctx, s)

	if !o.verifiable() || o.config.SkipQAReview {
		if o.config.SkipQAReview {
			s.logger.Info("qa review disabled, change is unverified")
		} else {
			s.logger.Warn("no build command was verified, change is unverified")
		}
		if o.expired(ctx, s) {
			return
		}
		s.succeed()
		return
	}

	// FixAttempt -> QABuild <-> QAEvaluate
	for {
		if !o.step(ctx, s, StateQABuild) {
			return
		}
		o.format(ctx, s)
		result, ok := o.build(ctx, s)
		if !ok {
			return
		}
		if result.Success() {
			if o.expired(ctx, s) {
				return
			}
			s.logger.Info("build passed", zap.Int("qa_attempts", s.QAAttempts))
			s.succeed()
			return
		}

		excerpt := buildExcerpt(result)
		if s.QAAttempts >= o.config.MaxQAAttempts {
			s.fail(models.FailureExceededQAAttempts,
				fmt.Sprintf("build still failing after %d QA attempts\n%s", s.QAAttempts, excerpt))
			return
		}

		if !o.step(ctx, s, StateQAEvaluate) {
			return
		}
		s.QAAttempts++
		s.logger.Info("running qa agent",
			zap.Int("attempt", s.QAAttempts),
			zap.Int("max_attempts", o.config.MaxQAAttempts))
		qa, err := o.qa.RunQA(ctx, agent.QARequest{
			RepoRoot:      o.repoRoot,
			Vulnerability: v,
			BuildCommand:  o.commands.Build,
			BuildOutput:   excerpt,
			ChangedFiles:  s.changed(),
			History:       append([]string(nil), s.QASummaries...),
		})
		if err == nil && qa == nil {
			err = fmt.Errorf("%w: qa agent returned no result", agent.ErrMalformedResult)
		}
		if err != nil {
			o.failWith(ctx, s, agentFailure(err, models.FailureQAAgent), err)
			return
		}
		s.QASummaries = append(s.QASummaries, qa.Summary)
		s.addChanged(qa.ChangedFiles...)
		o.collectChanges(ctx, s)
	}
}

// step checks the session budget and moves to the next state
func (o *Orchestrator) step(ctx context.Context, s *Session, to State) bool {
	if o.expired(ctx, s) {
		return false
	}
	s.transition(to)
	return true
}

// expired fails the session once the wall clock budget is spent
func (o *Orchestrator) expired(ctx context.Context, s *Session) bool {
	if s.elapsed() >= o.config.SessionTimeout || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		s.fail(models.FailureExceededTimeout,
			fmt.Sprintf("session exceeded its time budget of %s", o.config.SessionTimeout))
		return true
	}
	if ctx.Err() != nil {
		s.fail(models.FailureGeneral, fmt.Sprintf("session canceled: %v", ctx.Err()))
		return true
	}
	return false
}

// failWith maps an error into a failure, preferring the timeout category
// when the session deadline caused it.
func (o *Orchestrator) failWith(ctx context.Context, s *Session, category models.FailureCategory, err error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		category = models.FailureExceededTimeout
	}
	s.fail(category, err.Error())
}

// agentFailure maps an agent error to its category
func agentFailure(err error, fallback models.FailureCategory) models.FailureCategory {
	switch {
	case errors.Is(err, agent.ErrEventBudgetExceeded):
		return models.FailureExceededAgentEvents
	case errors.Is(err, context.DeadlineExceeded):
		return models.FailureExceededTimeout
	default:
		return fallback
	}
}

func (o *Orchestrator) verifiable() bool {
	return o.commands.Build != "" && o.commands.BuildVerifiable
}

func (o *Orchestrator) buildCommandForPrompt() string {
	if o.verifiable() {
		return o.commands.Build
	}
	return ""
}

// build runs the build command. ok is false when the session failed
// because the command could not run at all.
func (o *Orchestrator) build(ctx context.Context, s *Session) (*executor.Result, bool) {
	s.logger.Info("running build", zap.String("command", o.commands.Build))
	result, err := o.runner.Run(ctx, o.commands.Build, o.repoRoot)
	if err != nil {
		o.failWith(ctx, s, models.FailureGeneral, fmt.Errorf("cannot run build command: %w", err))
		return nil, false
	}
	if result.TimedOut && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		o.failWith(ctx, s, models.FailureExceededTimeout, fmt.Errorf("build interrupted by session deadline"))
		return nil, false
	}
	return result, true
}

// format runs the format command. Failures are logged and ignored.
func (o *Orchestrator) format(ctx context.Context, s *Session) {
	if o.commands.Format == "" {
		return
	}
	result, err := o.runner.Run(ctx, o.commands.Format, o.repoRoot)
	switch {
	case err != nil:
		s.logger.Warn("format command could not run", zap.String("command", o.commands.Format), zap.Error(err))
	case !result.Success():
		s.logger.Warn("format command failed",
			zap.String("command", o.commands.Format),
			zap.Int("exit_code", result.ExitCode))
	default:
		o.collectChanges(ctx, s)
	}
}

// collectChanges merges the working tree changes into the session
func (o *Orchestrator) collectChanges(ctx context.Context, s *Session) {
	files, err := o.scm.ChangedFiles(ctx)
	if err != nil {
		s.logger.Warn("cannot list changed files", zap.Error(err))
		return
	}
	s.addChanged(files...)
}

func (o *Orchestrator) cleanup(ctx context.Context, s *Session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := o.scm.Cleanup(ctx); err != nil {
		s.logger.Warn("failed to discard remediation changes", zap.Error(err))
	}
}

func (o *Orchestrator) result(s *Session) *Result {
	r := &Result{
		SessionID:       s.ID,
		VulnerabilityID: s.VulnerabilityID,
		ChangedFiles:    s.changed(),
		QAAttempts:      s.QAAttempts,
		BuildCommand:    o.commands.Build,
		Branch:          s.Branch,
		ErrorExcerpt:    s.LastError,
		Summary:         s.FixSummary,
		QASummaries:     s.QASummaries,
		Duration:        s.elapsed(),
		Transitions:     s.Transitions,
	}
	switch {
	case s.Failure != nil:
		r.Outcome = OutcomeFailed
		r.Failure = *s.Failure
	case !o.verifiable() || o.config.SkipQAReview:
		r.Outcome = OutcomeUnverified
	default:
		r.Outcome = OutcomeSuccess
	}
	return r
}

func buildExcerpt(result *executor.Result) string {
	excerpt := executor.ExtractBuildErrors(result.Output())
	if result.TimedOut {
		excerpt = fmt.Sprintf("command timed out after %s\n%s", result.Duration.Round(time.Second), excerpt)
	}
	return executor.TruncateHead(excerpt, excerptLength, "...")
}
