// SPDX-License-Identifier: Apache-2.0

package detect

import (
	"sync"

	"github.com/kusari-oss/darnfix/internal/core/executor"
	"github.com/kusari-oss/darnfix/internal/core/models"
)

const (
	// DefaultAttemptLimit is how many attempts an AttemptLog keeps
	DefaultAttemptLimit = 20

	// maxAttemptError bounds the error text stored per attempt
	maxAttemptError = 2000
)

// AttemptLog is an append-only record of failed detection attempts. Once the
// limit is reached the oldest entry is dropped.
type AttemptLog struct {
	mu      sync.Mutex
	limit   int
	entries []models.DetectionAttempt
	tried   map[string]bool
}

// NewAttemptLog creates a log holding at most limit entries
func NewAttemptLog(limit int) *AttemptLog {
	if limit <= 0 {
		limit = DefaultAttemptLimit
	}
	return &AttemptLog{limit: limit, tried: make(map[string]bool)}
}

// Append records an attempt. The error text is condensed to the relevant
// build error regions and bounded.
func (l *AttemptLog) Append(attempt models.DetectionAttempt) {
	attempt.Error = executor.TruncateHead(executor.ExtractBuildErrors(attempt.Error), maxAttemptError, "...")

	l.mu.Lock()
	defer l.mu.Unlock()
	l.tried[attempt.Command] = true
	l.entries = append(l.entries, attempt)
	if over := len(l.entries) - l.limit; over > 0 {
		l.entries = append([]models.DetectionAttempt(nil), l.entries[over:]...)
	}
}

// Entries returns a copy of the attempts in insertion order
func (l *AttemptLog) Entries() []models.DetectionAttempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.DetectionAttempt(nil), l.entries...)
}

// Tried reports whether command was ever attempted, including entries that
// have since been dropped.
func (l *AttemptLog) Tried(command string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tried[command]
}

// Len returns the number of retained entries
func (l *AttemptLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
