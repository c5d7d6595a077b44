// SPDX-License-Identifier: Apache-2.0

package remediation

import (
	"crypto/rand"
	"sort"
	"time"

	"github.com/kusari-oss/darnfix/internal/core/models"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// State is a step of the remediation state machine
type State string

const (
	StateStart             State = "start"
	StateInitialBuildCheck State = "initial_build_check"
	StateFixAttempt        State = "fix_attempt"
	StateQABuild           State = "qa_build"
	StateQAEvaluate        State = "qa_evaluate"
	StateSuccess           State = "success"
	StateFailed            State = "failed"
)

// Terminal reports whether no transition leaves the state
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailed
}

// Transition records one state change
type Transition struct {
	From State     `json:"from" yaml:"from"`
	To   State     `json:"to" yaml:"to"`
	At   time.Time `json:"at" yaml:"at"`
}

// Session is the mutable state of one vulnerability's remediation. It is
// owned by a single orchestrator run and discarded afterwards.
type Session struct {
	ID              string
	VulnerabilityID string
	State           State
	QAAttempts      int
	Failure         *models.FailureCategory
	ChangedFiles    map[string]bool
	StartTime       time.Time
	LastError       string
	Branch          string
	QASummaries     []string
	FixSummary      string
	Transitions     []Transition

	now    func() time.Time
	logger *zap.Logger
}

func newSession(vulnerabilityID string, now func() time.Time, logger *zap.Logger) *Session {
	start := now()
	return &Session{
		ID:              ulid.MustNew(ulid.Timestamp(start), rand.Reader).String(),
		VulnerabilityID: vulnerabilityID,
		State:           StateStart,
		ChangedFiles:    make(map[string]bool),
		StartTime:       start,
		now:             now,
		logger:          logger,
	}
}

// transition moves to state. Leaving a terminal state is ignored.
func (s *Session) transition(to State) {
	if s.State.Terminal() {
		s.logger.Warn("ignoring transition out of terminal state",
			zap.String("state", string(s.State)),
			zap.String("to", string(to)))
		return
	}
	s.Transitions = append(s.Transitions, Transition{From: s.State, To: to, At: s.now()})
	s.logger.Debug("session transition",
		zap.String("from", string(s.State)),
		zap.String("to", string(to)))
	s.State = to
}

// fail ends the session with category. Only the first failure is kept and
// a finished session cannot fail.
func (s *Session) fail(category models.FailureCategory, excerpt string) {
	if s.Failure != nil {
		s.logger.Warn("session already failed, ignoring second failure",
			zap.String("failure", string(*s.Failure)),
			zap.String("ignored", string(category)))
		return
	}
	if s.State.Terminal() {
		s.logger.Warn("session already finished, ignoring failure",
			zap.String("state", string(s.State)),
			zap.String("ignored", string(category)))
		return
	}
	s.Failure = &category
	s.LastError = excerpt
	s.transition(StateFailed)
	s.logger.Error("remediation failed",
		zap.String("category", string(category)),
		zap.String("error", excerpt))
}

func (s *Session) succeed() {
	s.transition(StateSuccess)
}

func (s *Session) addChanged(files ...string) {
	for _, f := range files {
		if f != "" {
			s.ChangedFiles[f] = true
		}
	}
}

// changed returns the changed files in sorted order
func (s *Session) changed() []string {
	files := make([]string, 0, len(s.ChangedFiles))
	for f := range s.ChangedFiles {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

func (s *Session) elapsed() time.Duration {
	return s.now().Sub(s.StartTime)
}
