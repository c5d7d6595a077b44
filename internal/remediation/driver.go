// SPDX-License-Identifier: Apache-2.0

package remediation

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/kusari-oss/darnfix/internal/core/models"
	"github.com/kusari-oss/darnfix/internal/logging"
	"go.uber.org/zap"
)

// Source supplies vulnerabilities to remediate. Next returns io.EOF when
// there is no more work.
type Source interface {
	Next(ctx context.Context) (*models.Vulnerability, error)
}

// Reporter receives the result of every session
type Reporter interface {
	Report(ctx context.Context, v models.Vulnerability, r *Result) error
}

// Runner runs one session
type Runner interface {
	Run(ctx context.Context, v models.Vulnerability) *Result
}

// Summary counts driver outcomes
type Summary struct {
	Processed  int
	Succeeded  int
	Unverified int
	Failed     int
	Skipped    int
}

// Driver processes vulnerabilities one at a time until the source is empty
// or the run budget is spent.
type Driver struct {
	source   Source
	runner   Runner
	reporter Reporter
	budget   time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewDriver creates a driver
func NewDriver(source Source, runner Runner, reporter Reporter) *Driver {
	return &Driver{source: source, runner: runner, reporter: reporter, now: time.Now}
}

// WithBudget stops the driver from starting new sessions once d has elapsed
func (d *Driver) WithBudget(budget time.Duration) *Driver {
	d.budget = budget
	return d
}

// WithClock replaces the wall clock
func (d *Driver) WithClock(now func() time.Time) *Driver {
	d.now = now
	return d
}

// WithLogger sets the logger
func (d *Driver) WithLogger(logger *zap.Logger) *Driver {
	d.logger = logger
	return d
}

// Run processes every vulnerability from the source sequentially
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	logger := logging.OrNop(d.logger)
	start := d.now()
	seen := make(map[string]bool)
	var summary Summary

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if d.budget > 0 && d.now().Sub(start) >= d.budget {
			logger.Warn("run budget exhausted, not starting more sessions",
				zap.Duration("budget", d.budget))
			return summary, nil
		}

		v, err := d.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return summary, nil
		}
		if err != nil {
			return summary, err
		}

		key := v.ID
		if v.RemediationID != "" {
			key = v.RemediationID
		}
		if seen[key] {
			logger.Info("skipping repeated vulnerability", zap.String("vulnerability", v.ID))
			summary.Skipped++
			continue
		}
		seen[key] = true

		result := d.runner.Run(ctx, *v)
		summary.Processed++
		switch result.Outcome {
		case OutcomeSuccess:
			summary.Succeeded++
		case OutcomeUnverified:
			summary.Unverified++
		default:
			summary.Failed++
		}

		if d.reporter != nil {
			if err := d.reporter.Report(ctx, *v, result); err != nil {
				logger.Warn("failed to report result", zap.String("vulnerability", v.ID), zap.Error(err))
			}
		}
	}
}

// SliceSource serves vulnerabilities from memory
type SliceSource struct {
	items []models.Vulnerability
	next  int
}

// NewSliceSource creates a source over items
func NewSliceSource(items []models.Vulnerability) *SliceSource {
	return &SliceSource{items: items}
}

// Next implements Source
func (s *SliceSource) Next(context.Context) (*models.Vulnerability, error) {
	if s.next >= len(s.items) {
		return nil, io.EOF
	}
	v := s.items[s.next]
	s.next++
	return &v, nil
}
