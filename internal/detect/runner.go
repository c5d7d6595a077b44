// SPDX-License-Identifier: Apache-2.0

package detect

import (
	"context"
	"time"

	"github.com/kusari-oss/darnfix/internal/core/executor"
	"go.uber.org/zap"
)

// DefaultProbeTimeout bounds each candidate run during detection
const DefaultProbeTimeout = 5 * time.Minute

// Runner executes a candidate command from the repository root
type Runner interface {
	Run(ctx context.Context, text, dir string) (*executor.Result, error)
}

// ExecRunner runs commands through the command executor. Unless Trusted is
// set every command is validated first.
type ExecRunner struct {
	Timeout     time.Duration
	OutputLimit int
	Trusted     bool
	Logger      *zap.Logger
}

// Run implements Runner
func (r *ExecRunner) Run(ctx context.Context, text, dir string) (*executor.Result, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	e := executor.NewCommandExecutor(text).
		WithWorkingDir(dir).
		WithTimeout(timeout).
		WithOutputLimit(r.OutputLimit).
		WithLogger(r.Logger)
	if r.Trusted {
		e = e.Trusted()
	}
	return e.Execute(ctx)
}
