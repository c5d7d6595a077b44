// SPDX-License-Identifier: Apache-2.0

package detect

import (
	"context"
	"fmt"

	"github.com/kusari-oss/darnfix/internal/core/command"
	"github.com/kusari-oss/darnfix/internal/core/condition"
	"github.com/kusari-oss/darnfix/internal/core/executor"
	"github.com/kusari-oss/darnfix/internal/core/models"
	"go.uber.org/zap"
)

const (
	// DefaultMaxTurns is how many suggestions the LLM phase asks for
	DefaultMaxTurns = 6

	// MaxTurnsCeiling caps the LLM phase regardless of configuration
	MaxTurnsCeiling = 10

	// NoOpCommand is returned when no working command could be found
	NoOpCommand = "echo 'No build command detected - using no-op'"

	// exit codes recorded for attempts that never ran
	exitNotFound = 127
	exitRejected = -1
)

// Request is the shared input of every strategy in one detection run
type Request struct {
	RepoRoot string
	Kind     Kind
	Projects []ProjectFacts
}

// Markers returns the marker paths of every project in the request
func (r *Request) Markers() []string {
	return allMarkers(r.Projects)
}

// Strategy is one phase of command detection. Detect returns nil when the
// phase is exhausted without finding a working command; an error aborts
// detection.
type Strategy interface {
	Name() models.Phase
	Detect(ctx context.Context, req *Request, log *AttemptLog) (*models.CommandCandidate, error)
}

// SuggestionRequest is what a Suggester sees on each turn
type SuggestionRequest struct {
	RepoRoot string
	Markers  []string
	Tree     string
	Attempts []models.DetectionAttempt
	Turn     int
	MaxTurns int
}

// Suggester proposes one build command per call
type Suggester interface {
	SuggestCommand(ctx context.Context, req SuggestionRequest) (string, error)
}

// trial validates and runs one candidate, recording failures in log.
// It returns true when the command succeeded.
func trial(ctx context.Context, runner Runner, validator *command.Validator, phase models.Phase,
	text, repoRoot string, log *AttemptLog, logger *zap.Logger) (bool, error) {

	if verdict := validator.Validate(text); !verdict.IsAllowed() {
		logger.Info("candidate rejected",
			zap.String("command", text),
			zap.String("reason", verdict.Reason))
		log.Append(models.DetectionAttempt{
			Command:  text,
			ExitCode: exitRejected,
			Error:    "command rejected by validator: " + verdict.Reason,
			Phase:    phase,
		})
		return false, nil
	}

	result, err := runner.Run(ctx, text, repoRoot)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		logger.Info("candidate could not run", zap.String("command", text), zap.Error(err))
		log.Append(models.DetectionAttempt{
			Command:  text,
			ExitCode: exitRejected,
			Error:    err.Error(),
			Phase:    phase,
		})
		return false, nil
	}
	if result.Success() {
		return true, nil
	}

	logger.Info("candidate failed",
		zap.String("command", text),
		zap.Int("exit_code", result.ExitCode),
		zap.Bool("timed_out", result.TimedOut))
	log.Append(models.DetectionAttempt{
		Command:  text,
		ExitCode: result.ExitCode,
		Error:    result.ErrorExcerpt(executor.DefaultOutputLimit),
		Phase:    phase,
	})
	return false, nil
}

// deterministicStrategy tries rule generated candidates for every project
type deterministicStrategy struct {
	rules     *RuleSet
	evaluator *condition.CELEvaluator
	runner    Runner
	prober    Prober
	validator *command.Validator
	logger    *zap.Logger
}

func (s *deterministicStrategy) Name() models.Phase { return models.PhaseDeterministic }

func (s *deterministicStrategy) Detect(ctx context.Context, req *Request, log *AttemptLog) (*models.CommandCandidate, error) {
	root := ProjectFacts{Dir: "."}
	if len(req.Projects) > 0 && req.Projects[0].IsRoot() {
		root = req.Projects[0]
	}

	for _, project := range req.Projects {
		candidates, err := s.rules.Candidates(project, root, s.evaluator)
		if err != nil {
			return nil, fmt.Errorf("error generating %s candidates for %s: %w", req.Kind, project.Dir, err)
		}
		for _, c := range candidates {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if log.Tried(c.Text) {
				continue
			}
			if !s.prober.Available(c.Executable, req.RepoRoot) {
				s.logger.Debug("tool not available", zap.String("command", c.Text))
				log.Append(models.DetectionAttempt{
					Command:  c.Text,
					ExitCode: exitNotFound,
					Error:    fmt.Sprintf("%s: command not found", c.Executable),
					Phase:    models.PhaseDeterministic,
				})
				continue
			}
			ok, err := trial(ctx, s.runner, s.validator, models.PhaseDeterministic, c.Text, req.RepoRoot, log, s.logger)
			if err != nil {
				return nil, err
			}
			if ok {
				candidate := c
				return &candidate, nil
			}
		}
	}
	return nil, nil
}

// llmStrategy asks a Suggester for commands, feeding back each failure
type llmStrategy struct {
	suggester Suggester
	maxTurns  int
	runner    Runner
	validator *command.Validator
	logger    *zap.Logger
}

func (s *llmStrategy) Name() models.Phase { return models.PhaseLLM }

func (s *llmStrategy) Detect(ctx context.Context, req *Request, log *AttemptLog) (*models.CommandCandidate, error) {
	tree := Tree(req.RepoRoot, DefaultTreeDepth, DefaultTreeChars)
	markers := req.Markers()

	for turn := 1; turn <= s.maxTurns; turn++ {
		text, err := s.suggester.SuggestCommand(ctx, SuggestionRequest{
			RepoRoot: req.RepoRoot,
			Markers:  markers,
			Tree:     tree,
			Attempts: log.Entries(),
			Turn:     turn,
			MaxTurns: s.maxTurns,
		})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err != nil {
			s.logger.Warn("command suggestion failed", zap.Int("turn", turn), zap.Error(err))
			continue
		}

		text = command.Normalize(text)
		if text == "" {
			s.logger.Info("empty command suggestion", zap.Int("turn", turn))
			continue
		}
		s.logger.Info("trying suggested command", zap.Int("turn", turn), zap.String("command", text))

		if log.Tried(text) {
			log.Append(models.DetectionAttempt{
				Command:  text,
				ExitCode: exitRejected,
				Error:    "command was already tried and failed; suggest a different command",
				Phase:    models.PhaseLLM,
			})
			continue
		}

		ok, err := trial(ctx, s.runner, s.validator, models.PhaseLLM, text, req.RepoRoot, log, s.logger)
		if err != nil {
			return nil, err
		}
		if ok {
			return &models.CommandCandidate{
				Executable: command.Executable(text),
				Text:       text,
				Origin:     models.OriginLLMSuggestion,
			}, nil
		}
	}
	return nil, nil
}

// noOpStrategy always succeeds with a command that verifies nothing
type noOpStrategy struct{}

func (noOpStrategy) Name() models.Phase { return models.PhaseNoOp }

func (noOpStrategy) Detect(context.Context, *Request, *AttemptLog) (*models.CommandCandidate, error) {
	return &models.CommandCandidate{
		Executable: "echo",
		Text:       NoOpCommand,
		Origin:     models.OriginManual,
	}, nil
}
