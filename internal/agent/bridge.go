// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kusari-oss/darnfix/internal/logging"
	"go.uber.org/zap"
)

// DefaultGrace bounds how long Invoke waits for a cancelled agent to stop
const DefaultGrace = 10 * time.Second

// Starter launches asynchronous agent runs
type Starter interface {
	Start(ctx context.Context, req Request) *Call
}

// Bridge lets synchronous code call asynchronous agents. Every call gets its
// own cancellable context which is always cancelled and drained before
// Invoke returns; results arriving after that are discarded.
type Bridge struct {
	starter Starter
	grace   time.Duration
	logger  *zap.Logger
}

// NewBridge creates a bridge over starter
func NewBridge(starter Starter) *Bridge {
	return &Bridge{starter: starter, grace: DefaultGrace}
}

// WithGrace sets how long cleanup waits for the agent to stop
func (b *Bridge) WithGrace(d time.Duration) *Bridge {
	if d > 0 {
		b.grace = d
	}
	return b
}

// WithLogger sets the logger
func (b *Bridge) WithLogger(logger *zap.Logger) *Bridge {
	b.logger = logger
	return b
}

// Invoke runs one agent call to completion or until ctx ends
func (b *Bridge) Invoke(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s agent not started: %w", req.Kind, err)
	}

	callID := uuid.NewString()
	logger := logging.OrNop(b.logger).With(
		zap.String("call_id", callID),
		zap.String("agent", req.Kind.String()))

	callCtx, cancel := context.WithCancel(ctx)
	call := b.starter.Start(callCtx, req)
	logger.Debug("agent call started")

	defer func() {
		cancel()
		timer := time.NewTimer(b.grace)
		defer timer.Stop()
		select {
		case <-call.Done():
		case <-timer.C:
			logger.Warn("agent did not stop after cancellation", zap.Duration("grace", b.grace))
		}
	}()

	select {
	case <-call.Done():
		result, err := call.Wait()
		if err != nil {
			return nil, err
		}
		result.CallID = callID
		return result, nil
	case <-ctx.Done():
		logger.Warn("agent call abandoned", zap.Error(ctx.Err()))
		return nil, fmt.Errorf("%s agent call abandoned: %w", req.Kind, ctx.Err())
	}
}
