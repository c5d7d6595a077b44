// SPDX-License-Identifier: Apache-2.0

package models

import "fmt"

// Origin records where a command candidate came from
type Origin string

const (
	OriginMarkerFile    Origin = "marker_file"
	OriginLLMSuggestion Origin = "llm_suggestion"
	OriginManual        Origin = "manual"
)

// CommandCandidate is a proposed shell command that has not yet been proven to work
type CommandCandidate struct {
	Executable string `json:"executable" yaml:"executable"`
	Text       string `json:"text" yaml:"text"`
	Origin     Origin `json:"origin" yaml:"origin"`
}

// String returns the command text
func (c CommandCandidate) String() string {
	return c.Text
}

// IsZero reports whether the candidate carries no command
func (c CommandCandidate) IsZero() bool {
	return c.Text == ""
}

// Phase identifies the detection strategy that produced an attempt
type Phase string

const (
	PhaseDeterministic Phase = "deterministic"
	PhaseLLM           Phase = "llm"
	PhaseNoOp          Phase = "noop"
)

// DetectionAttempt is one logged try at running a candidate command
type DetectionAttempt struct {
	Command  string `json:"command" yaml:"command"`
	ExitCode int    `json:"exit_code" yaml:"exit_code"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
	Phase    Phase  `json:"phase" yaml:"phase"`
}

// FailureCategory is the closed set of reasons a remediation session can fail
type FailureCategory string

const (
	FailureInitialBuild         FailureCategory = "INITIAL_BUILD_FAILURE"
	FailureExceededQAAttempts   FailureCategory = "EXCEEDED_QA_ATTEMPTS"
	FailureQAAgent              FailureCategory = "QA_AGENT_FAILURE"
	FailureAgent                FailureCategory = "AGENT_FAILURE"
	FailureExceededTimeout      FailureCategory = "EXCEEDED_TIMEOUT"
	FailureExceededAgentEvents  FailureCategory = "EXCEEDED_AGENT_EVENTS"
	FailureInvalidConfiguration FailureCategory = "INVALID_CONFIGURATION"
	FailureGeneral              FailureCategory = "GENERAL_FAILURE"
)

// FailureCategories lists every category in declaration order
var FailureCategories = []FailureCategory{
	FailureInitialBuild,
	FailureExceededQAAttempts,
	FailureQAAgent,
	FailureAgent,
	FailureExceededTimeout,
	FailureExceededAgentEvents,
	FailureInvalidConfiguration,
	FailureGeneral,
}

// ParseFailureCategory converts a string into a known category
func ParseFailureCategory(s string) (FailureCategory, error) {
	for _, c := range FailureCategories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown failure category: %q", s)
}

// Vulnerability is the unit of work handed to a remediation session
type Vulnerability struct {
	ID              string `json:"id" yaml:"id"`
	RemediationID   string `json:"remediation_id,omitempty" yaml:"remediation_id,omitempty"`
	Title           string `json:"title" yaml:"title"`
	RuleName        string `json:"rule_name,omitempty" yaml:"rule_name,omitempty"`
	Description     string `json:"description,omitempty" yaml:"description,omitempty"`
	FixSystemPrompt string `json:"fix_system_prompt,omitempty" yaml:"fix_system_prompt,omitempty"`
	FixUserPrompt   string `json:"fix_user_prompt,omitempty" yaml:"fix_user_prompt,omitempty"`
	QASystemPrompt  string `json:"qa_system_prompt,omitempty" yaml:"qa_system_prompt,omitempty"`
	QAUserPrompt    string `json:"qa_user_prompt,omitempty" yaml:"qa_user_prompt,omitempty"`
}

// Validate checks the fields every session relies on
func (v Vulnerability) Validate() error {
	if v.ID == "" {
		return fmt.Errorf("vulnerability id is required")
	}
	if v.Title == "" && v.FixUserPrompt == "" {
		return fmt.Errorf("vulnerability %s needs a title or a fix prompt", v.ID)
	}
	return nil
}

// VulnerabilityFile is the on-disk layout for a batch of vulnerabilities
type VulnerabilityFile struct {
	Vulnerabilities []Vulnerability `json:"vulnerabilities" yaml:"vulnerabilities"`
}
