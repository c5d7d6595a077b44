// SPDX-License-Identifier: Apache-2.0

// Package testutil holds testify mocks shared by package tests.
package testutil

import (
	"context"
	"sync"

	"github.com/kusari-oss/darnfix/internal/agent"
	"github.com/kusari-oss/darnfix/internal/core/executor"
	"github.com/kusari-oss/darnfix/internal/core/models"
	"github.com/kusari-oss/darnfix/internal/detect"
	"github.com/stretchr/testify/mock"
)

// MockSuggester is a testify mock of detect.Suggester
type MockSuggester struct {
	mock.Mock
}

// SuggestCommand mocks the SuggestCommand method
func (m *MockSuggester) SuggestCommand(ctx context.Context, req detect.SuggestionRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// FakeRunner is a detect.Runner that never spawns anything. A command with
// queued exit codes in Sequence uses them in order; otherwise commands
// listed in Succeed exit 0 and everything else exits with FailCode.
type FakeRunner struct {
	Succeed  map[string]bool
	Sequence map[string][]int
	FailCode int
	Output   string
	// Err is returned for every call when set
	Err error

	mu    sync.Mutex
	calls []string
}

// NewFakeRunner creates a runner where the given commands succeed
func NewFakeRunner(succeed ...string) *FakeRunner {
	r := &FakeRunner{
		Succeed:  make(map[string]bool),
		Sequence: make(map[string][]int),
		FailCode: 1,
		Output:   "error: build failed",
	}
	for _, s := range succeed {
		r.Succeed[s] = true
	}
	return r
}

// Run implements detect.Runner
func (r *FakeRunner) Run(ctx context.Context, text, dir string) (*executor.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.calls = append(r.calls, text)
	code, queued := -1, false
	if seq := r.Sequence[text]; len(seq) > 0 {
		code, queued = seq[0], true
		r.Sequence[text] = seq[1:]
	}
	r.mu.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}
	if queued {
		out := "ok"
		if code != 0 {
			out = r.Output
		}
		return &executor.Result{Command: text, ExitCode: code, Combined: out}, nil
	}
	if r.Succeed[text] {
		return &executor.Result{Command: text, ExitCode: 0, Combined: "ok"}, nil
	}
	return &executor.Result{Command: text, ExitCode: r.FailCode, Combined: r.Output}, nil
}

// Calls returns the commands run so far, in order
func (r *FakeRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// CountOf returns how many times text was run
func (r *FakeRunner) CountOf(text string) int {
	n := 0
	for _, c := range r.Calls() {
		if c == text {
			n++
		}
	}
	return n
}

// AllTools is a detect.Prober that reports every tool as installed
type AllTools struct{}

// Available implements detect.Prober
func (AllTools) Available(string, string) bool { return true }

// MockFixAgent is a testify mock of the fix agent
type MockFixAgent struct {
	mock.Mock
}

// RunFix mocks the RunFix method
func (m *MockFixAgent) RunFix(ctx context.Context, req agent.FixRequest) (*agent.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*agent.Result), args.Error(1)
}

// MockQAAgent is a testify mock of the QA agent
type MockQAAgent struct {
	mock.Mock
}

// RunQA mocks the RunQA method
func (m *MockQAAgent) RunQA(ctx context.Context, req agent.QARequest) (*agent.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*agent.Result), args.Error(1)
}

// MockSourceControl is a testify mock of the branch and working tree
// collaborator. Every call must be expected.
type MockSourceControl struct {
	mock.Mock
}

// PrepareBranch mocks the PrepareBranch method
func (m *MockSourceControl) PrepareBranch(ctx context.Context, v models.Vulnerability) (string, error) {
	args := m.Called(ctx, v)
	return args.String(0), args.Error(1)
}

// ChangedFiles mocks the ChangedFiles method
func (m *MockSourceControl) ChangedFiles(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// Cleanup mocks the Cleanup method
func (m *MockSourceControl) Cleanup(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
