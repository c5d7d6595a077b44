// SPDX-License-Identifier: Apache-2.0

// Package agent runs language model sub-agents with a bounded event budget
// and exposes them to synchronous callers through a Bridge.
package agent

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEventBudgetExceeded is returned when an agent emits more events
	// than its budget allows. The agent is stopped.
	ErrEventBudgetExceeded = errors.New("agent exceeded its event budget")

	// ErrMalformedResult is returned when an agent finishes without a
	// usable final answer.
	ErrMalformedResult = errors.New("agent returned a malformed result")
)

// Kind selects which sub-agent runs
type Kind int

const (
	KindFix Kind = iota
	KindQA
	KindCommandDetection
)

func (k Kind) String() string {
	switch k {
	case KindFix:
		return "fix"
	case KindQA:
		return "qa"
	case KindCommandDetection:
		return "command_detection"
	default:
		return "unknown"
	}
}

// EventType classifies agent events
type EventType string

const (
	EventMessage    EventType = "message"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
)

// Event is one step of an agent run. Every event counts against the budget.
type Event struct {
	Type EventType
	Text string
	Tool string
	Args map[string]interface{}
	// Failed marks a tool result that reported an error
	Failed bool
}

// Request describes one agent run
type Request struct {
	Kind         Kind
	RepoRoot     string
	SystemPrompt string
	UserPrompt   string
	// ReadOnly withholds the file writing tool
	ReadOnly bool
}

// Result is the outcome of a completed agent run
type Result struct {
	CallID       string
	Kind         Kind
	Summary      string
	ChangedFiles []string
	Events       int
	Duration     time.Duration
}

// Emitter publishes an event. It returns an error once the run must stop.
type Emitter func(Event) error

// Model is a language model client able to drive a tool using agent loop.
// Run returns the agent's final text answer.
type Model interface {
	Run(ctx context.Context, req Request, tools *Toolbox, emit Emitter) (string, error)
}
