// SPDX-License-Identifier: Apache-2.0

// Package detect finds a working build or format command for a repository.
// Detection runs in phases: rule based candidates derived from marker files,
// then suggestions from a language model, then a no-op fallback.
package detect

import (
	"context"
	"fmt"
	"sync"

	"github.com/kusari-oss/darnfix/internal/core/command"
	"github.com/kusari-oss/darnfix/internal/core/condition"
	"github.com/kusari-oss/darnfix/internal/core/models"
	"github.com/kusari-oss/darnfix/internal/logging"
	"go.uber.org/zap"
)

// DefaultScanDepth is how many directory levels below the root are scanned
const DefaultScanDepth = 2

// Detection is the outcome of a detection run
type Detection struct {
	Command  models.CommandCandidate   `json:"command" yaml:"command"`
	Phase    models.Phase              `json:"phase" yaml:"phase"`
	Verified bool                      `json:"verified" yaml:"verified"`
	Attempts []models.DetectionAttempt `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Markers  []string                  `json:"markers,omitempty" yaml:"markers,omitempty"`
}

// IsNoOp reports whether the detection fell back to the no-op command
func (d *Detection) IsNoOp() bool {
	return d == nil || d.Phase == models.PhaseNoOp
}

// Detector finds build and format commands
type Detector struct {
	runner    Runner
	prober    Prober
	suggester Suggester
	validator *command.Validator
	maxTurns  int
	scanDepth int
	rules     map[Kind]*RuleSet
	logger    *zap.Logger

	mu        sync.Mutex
	evaluator *condition.CELEvaluator
	memo      map[string]*Detection
}

// NewDetector creates a detector that runs candidates with the validating
// executor and has no language model phase.
func NewDetector() *Detector {
	return &Detector{
		runner:    &ExecRunner{},
		prober:    ToolProber{},
		validator: command.NewValidator(),
		maxTurns:  DefaultMaxTurns,
		scanDepth: DefaultScanDepth,
		rules:     make(map[Kind]*RuleSet),
		memo:      make(map[string]*Detection),
	}
}

// WithRunner sets how candidates are executed
func (d *Detector) WithRunner(r Runner) *Detector {
	d.runner = r
	return d
}

// WithProber sets how tool availability is checked
func (d *Detector) WithProber(p Prober) *Detector {
	d.prober = p
	return d
}

// WithSuggester enables the language model phase for build detection
func (d *Detector) WithSuggester(s Suggester) *Detector {
	d.suggester = s
	return d
}

// WithValidator replaces the default validator
func (d *Detector) WithValidator(v *command.Validator) *Detector {
	d.validator = v
	return d
}

// WithMaxTurns sets the number of suggestion turns, capped at MaxTurnsCeiling
func (d *Detector) WithMaxTurns(n int) *Detector {
	switch {
	case n <= 0:
		d.maxTurns = DefaultMaxTurns
	case n > MaxTurnsCeiling:
		d.maxTurns = MaxTurnsCeiling
	default:
		d.maxTurns = n
	}
	return d
}

// WithScanDepth sets how deep marker files are searched for
func (d *Detector) WithScanDepth(depth int) *Detector {
	if depth >= 0 {
		d.scanDepth = depth
	}
	return d
}

// WithRuleSet replaces the embedded rules for kind
func (d *Detector) WithRuleSet(kind Kind, rs *RuleSet) *Detector {
	d.rules[kind] = rs
	return d
}

// WithLogger sets the logger
func (d *Detector) WithLogger(logger *zap.Logger) *Detector {
	d.logger = logger
	return d
}

// DetectBuildCommand always returns a command: a verified one when any phase
// found a command that succeeds, otherwise the no-op. Errors are returned only
// for cancellation, an unreadable repository or broken rules.
func (d *Detector) DetectBuildCommand(ctx context.Context, repoRoot string) (*Detection, error) {
	return d.detect(ctx, repoRoot, KindBuild)
}

// DetectFormatCommand runs only the rule based phase. ok is false when no
// format command works.
func (d *Detector) DetectFormatCommand(ctx context.Context, repoRoot string) (*Detection, bool) {
	detection, err := d.detect(ctx, repoRoot, KindFormat)
	if err != nil {
		logging.OrNop(d.logger).Warn("format command detection failed", zap.Error(err))
		return nil, false
	}
	if detection == nil {
		return nil, false
	}
	return detection, true
}

func (d *Detector) detect(ctx context.Context, repoRoot string, kind Kind) (*Detection, error) {
	logger := logging.OrNop(d.logger).With(zap.String("kind", string(kind)))

	evaluator, rules, err := d.prepare(kind)
	if err != nil {
		return nil, err
	}

	projects, err := Scan(repoRoot, d.scanDepth, rules.MarkerPatterns())
	if err != nil {
		return nil, err
	}
	key := string(kind) + ":" + Fingerprint(repoRoot, projects)
	if cached, ok := d.cached(key); ok {
		logger.Debug("using memoised detection", zap.String("command", cached.Command.Text))
		return cached, nil
	}

	req := &Request{RepoRoot: repoRoot, Kind: kind, Projects: projects}
	log := NewAttemptLog(DefaultAttemptLimit)

	strategies := []Strategy{&deterministicStrategy{
		rules:     rules,
		evaluator: evaluator,
		runner:    d.runner,
		prober:    d.prober,
		validator: d.validator,
		logger:    logger,
	}}
	if kind == KindBuild {
		if d.suggester != nil {
			strategies = append(strategies, &llmStrategy{
				suggester: d.suggester,
				maxTurns:  d.maxTurns,
				runner:    d.runner,
				validator: d.validator,
				logger:    logger,
			})
		}
		strategies = append(strategies, noOpStrategy{})
	}

	logger.Info("detecting command",
		zap.String("repo", repoRoot),
		zap.Int("projects", len(projects)))

	var detection *Detection
	for _, s := range strategies {
		candidate, err := s.Detect(ctx, req, log)
		if err != nil {
			return nil, fmt.Errorf("%s detection failed: %w", s.Name(), err)
		}
		if candidate == nil {
			logger.Info("detection phase exhausted", zap.String("phase", string(s.Name())))
			continue
		}
		detection = &Detection{
			Command:  *candidate,
			Phase:    s.Name(),
			Verified: s.Name() != models.PhaseNoOp,
			Attempts: log.Entries(),
			Markers:  req.Markers(),
		}
		logger.Info("detected command",
			zap.String("command", candidate.Text),
			zap.String("phase", string(s.Name())),
			zap.Int("failed_attempts", log.Len()))
		break
	}

	if detection != nil {
		d.store(key, detection)
	}
	return detection, nil
}

func (d *Detector) prepare(kind Kind) (*condition.CELEvaluator, *RuleSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.evaluator == nil {
		evaluator, err := condition.NewCELEvaluator()
		if err != nil {
			return nil, nil, fmt.Errorf("error creating condition evaluator: %w", err)
		}
		d.evaluator = evaluator
	}

	rs, ok := d.rules[kind]
	if !ok {
		var err error
		rs, err = DefaultRuleSet(kind)
		if err != nil {
			return nil, nil, err
		}
		if err := rs.Compile(d.evaluator); err != nil {
			return nil, nil, fmt.Errorf("invalid %s rules: %w", kind, err)
		}
		d.rules[kind] = rs
	}
	return d.evaluator, rs, nil
}

func (d *Detector) cached(key string) (*Detection, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	detection, ok := d.memo[key]
	return detection, ok
}

func (d *Detector) store(key string, detection *Detection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.memo[key] = detection
}
