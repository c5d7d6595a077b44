// SPDX-License-Identifier: Apache-2.0

// Package executor runs shell commands for build verification and detection.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/kusari-oss/darnfix/internal/core/command"
	"github.com/kusari-oss/darnfix/internal/logging"
	"go.uber.org/zap"
)

const (
	// TimeoutExitCode is reported when a command is killed for running too long
	TimeoutExitCode = 124

	// DefaultOutputLimit is the number of bytes kept per output stream
	DefaultOutputLimit = 256 * 1024

	// DefaultTimeout applies when no timeout is configured
	DefaultTimeout = 30 * time.Minute

	waitDelay = 3 * time.Second
)

// ErrRejected is returned when a command fails validation and was not run
var ErrRejected = errors.New("command rejected")

// Validator is the subset of the command validator the executor needs
type Validator interface {
	Validate(text string) command.Verdict
}

// CommandExecutor handles running a shell command line
type CommandExecutor struct {
	command     string
	workingDir  string
	environment []string
	timeout     time.Duration
	outputLimit int
	validator   Validator
	trusted     bool
	stream      io.Writer
	logger      *zap.Logger
}

// Result holds the result of command execution
type Result struct {
	Command   string
	ExitCode  int
	Stdout    string
	Stderr    string
	Combined  string
	Truncated bool
	TimedOut  bool
	Duration  time.Duration
}

// NewCommandExecutor creates a new command executor
func NewCommandExecutor(text string) *CommandExecutor {
	return &CommandExecutor{
		command:     command.Normalize(text),
		timeout:     DefaultTimeout,
		outputLimit: DefaultOutputLimit,
	}
}

// WithWorkingDir sets the working directory
func (e *CommandExecutor) WithWorkingDir(dir string) *CommandExecutor {
	e.workingDir = dir
	return e
}

// WithEnvironment sets environment variables
func (e *CommandExecutor) WithEnvironment(env []string) *CommandExecutor {
	e.environment = env
	return e
}

// WithTimeout sets the wall-clock limit. Zero or negative keeps the default.
func (e *CommandExecutor) WithTimeout(timeout time.Duration) *CommandExecutor {
	if timeout > 0 {
		e.timeout = timeout
	}
	return e
}

// WithOutputLimit sets how many trailing bytes of each stream are kept
func (e *CommandExecutor) WithOutputLimit(limit int) *CommandExecutor {
	if limit > 0 {
		e.outputLimit = limit
	}
	return e
}

// WithValidator replaces the default allowlist validator
func (e *CommandExecutor) WithValidator(v Validator) *CommandExecutor {
	e.validator = v
	return e
}

// Trusted skips validation. Use only for operator supplied commands and for
// the fixed git invocations issued by this program.
func (e *CommandExecutor) Trusted() *CommandExecutor {
	e.trusted = true
	return e
}

// WithOutput mirrors both output streams to w while capturing them
func (e *CommandExecutor) WithOutput(w io.Writer) *CommandExecutor {
	e.stream = w
	return e
}

// WithLogger sets the logger
func (e *CommandExecutor) WithLogger(logger *zap.Logger) *CommandExecutor {
	e.logger = logger
	return e
}

// Execute runs the command and returns its result. A non-zero exit status or
// a timeout is reported through the Result, not as an error; only failing to
// start the command, a rejected command or parent cancellation return one.
func (e *CommandExecutor) Execute(ctx context.Context) (*Result, error) {
	logger := logging.OrNop(e.logger)

	if e.command == "" {
		return nil, fmt.Errorf("no command to execute")
	}

	if !e.trusted {
		v := e.validator
		if v == nil {
			v = command.NewValidator()
		}
		if verdict := v.Validate(e.command); !verdict.IsAllowed() {
			logger.Warn("refusing to run rejected command",
				zap.String("command", e.command),
				zap.String("reason", verdict.Reason))
			return nil, fmt.Errorf("%w: %s", ErrRejected, verdict.Reason)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", e.command)
	tree := newProcessTree(cmd)
	defer tree.release()
	cmd.WaitDelay = waitDelay

	if e.workingDir != "" {
		cmd.Dir = e.workingDir
	}
	if len(e.environment) > 0 {
		cmd.Env = e.environment
	}

	stdout := newTailBuffer(e.outputLimit)
	stderr := newTailBuffer(e.outputLimit)
	combined := newTailBuffer(e.outputLimit)
	outWriters := []io.Writer{stdout, combined}
	errWriters := []io.Writer{stderr, combined}
	if e.stream != nil {
		outWriters = append(outWriters, e.stream)
		errWriters = append(errWriters, e.stream)
	}
	cmd.Stdout = io.MultiWriter(outWriters...)
	cmd.Stderr = io.MultiWriter(errWriters...)

	logger.Debug("executing command",
		zap.String("command", e.command),
		zap.String("dir", e.workingDir),
		zap.Duration("timeout", e.timeout))

	start := time.Now()
	err := cmd.Start()
	if err == nil {
		if treeErr := tree.attach(cmd); treeErr != nil {
			logger.Warn("child processes will not be stopped with the command",
				zap.String("command", e.command),
				zap.Error(treeErr))
		}
		err = cmd.Wait()
	}

	result := &Result{
		Command:   e.command,
		Duration:  time.Since(start),
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Combined:  combined.String(),
		Truncated: stdout.Truncated() || stderr.Truncated() || combined.Truncated(),
	}

	// Parent cancellation is not a timeout of this command.
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.Canceled) {
		return nil, fmt.Errorf("command %q canceled: %w", e.command, ctxErr)
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = TimeoutExitCode
		logger.Warn("command timed out",
			zap.String("command", e.command),
			zap.Duration("elapsed", result.Duration))
		return result, nil
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	case errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil:
		result.ExitCode = cmd.ProcessState.ExitCode()
	default:
		return nil, fmt.Errorf("failed to run command %q: %w", e.command, err)
	}

	logger.Debug("command finished",
		zap.String("command", e.command),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", result.Duration),
		zap.Bool("truncated", result.Truncated))

	return result, nil
}

// Run validates and executes text in dir with the given timeout
func Run(ctx context.Context, text, dir string, timeout time.Duration) (*Result, error) {
	return NewCommandExecutor(text).
		WithWorkingDir(dir).
		WithTimeout(timeout).
		Execute(ctx)
}

// Success reports whether the command exited zero within its time limit
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0 && !r.TimedOut
}

// Output returns the interleaved output, falling back to the separate streams
func (r *Result) Output() string {
	if r == nil {
		return ""
	}
	if r.Combined != "" {
		return r.Combined
	}
	return r.Stdout + r.Stderr
}

// ErrorExcerpt returns at most n trailing bytes of the output, suitable for
// feeding back to an agent or a reviewer.
func (r *Result) ErrorExcerpt(n int) string {
	out := strings.TrimSpace(r.Output())
	if r != nil && r.TimedOut {
		out = strings.TrimSpace(fmt.Sprintf("command timed out after %s\n%s", r.Duration.Round(time.Second), out))
	}
	if n <= 0 || len(out) <= n {
		return out
	}
	return "..." + out[len(out)-n:]
}
