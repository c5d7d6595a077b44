// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kusari-oss/darnfix/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxEvents is the event budget of a single agent run
const DefaultMaxEvents = 120

// Executor runs a Model asynchronously and enforces the event budget
type Executor struct {
	model     Model
	maxEvents int
	logger    *zap.Logger
}

// Call is an agent run in progress
type Call struct {
	done   chan struct{}
	result *Result
	err    error
}

// NewExecutor creates an executor for model
func NewExecutor(model Model) *Executor {
	return &Executor{model: model, maxEvents: DefaultMaxEvents}
}

// WithMaxEvents sets the event budget
func (e *Executor) WithMaxEvents(n int) *Executor {
	if n > 0 {
		e.maxEvents = n
	}
	return e
}

// WithLogger sets the logger
func (e *Executor) WithLogger(logger *zap.Logger) *Executor {
	e.logger = logger
	return e
}

// Start launches the agent and returns immediately. The model and the event
// consumer run in one errgroup: the first failure, including an exhausted
// budget, cancels the other.
func (e *Executor) Start(ctx context.Context, req Request) *Call {
	logger := logging.OrNop(e.logger).With(zap.String("agent", req.Kind.String()))
	call := &Call{done: make(chan struct{})}
	tools := NewToolbox(req.RepoRoot, !req.ReadOnly)
	events := make(chan Event)
	start := time.Now()

	var (
		summary string
		count   int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(events)
		text, err := e.model.Run(gctx, req, tools, func(ev Event) error {
			select {
			case events <- ev:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
		if err != nil {
			return fmt.Errorf("%s agent failed: %w", req.Kind, err)
		}
		summary = text
		return nil
	})
	g.Go(func() error {
		for ev := range events {
			count++
			if count > e.maxEvents {
				logger.Warn("agent reached its event limit, stopping",
					zap.Int("max_events", e.maxEvents))
				return fmt.Errorf("%w (limit %d)", ErrEventBudgetExceeded, e.maxEvents)
			}
			logEvent(logger, count, ev)
		}
		return nil
	})

	go func() {
		defer close(call.done)
		if err := g.Wait(); err != nil {
			call.err = err
			return
		}
		summary = strings.TrimSpace(summary)
		if summary == "" {
			call.err = fmt.Errorf("%w: %s agent gave no final answer", ErrMalformedResult, req.Kind)
			return
		}
		call.result = &Result{
			Kind:         req.Kind,
			Summary:      summary,
			ChangedFiles: tools.Written(),
			Events:       count,
			Duration:     time.Since(start),
		}
		logger.Info("agent finished",
			zap.Int("events", count),
			zap.Strings("changed_files", call.result.ChangedFiles),
			zap.Duration("duration", call.result.Duration))
	}()

	return call
}

// Done is closed when the run has finished
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the run finishes and returns its outcome
func (c *Call) Wait() (*Result, error) {
	<-c.done
	return c.result, c.err
}

func logEvent(logger *zap.Logger, n int, ev Event) {
	switch ev.Type {
	case EventMessage:
		logger.Debug("agent message", zap.Int("event", n), zap.String("text", ev.Text))
	case EventToolCall:
		logger.Debug("agent calling tool", zap.Int("event", n), zap.String("tool", ev.Tool), zap.Any("args", ev.Args))
	case EventToolResult:
		logger.Debug("tool result", zap.Int("event", n), zap.String("tool", ev.Tool), zap.Bool("failed", ev.Failed))
	}
}
