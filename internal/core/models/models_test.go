// SPDX-License-Identifier: Apache-2.0

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFailureCategory(t *testing.T) {
	for _, c := range FailureCategories {
		got, err := ParseFailureCategory(string(c))
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}

	_, err := ParseFailureCategory("SOMETHING_ELSE")
	assert.Error(t, err)
}

func TestFailureCategoriesClosedSet(t *testing.T) {
	assert.Len(t, FailureCategories, 8)

	seen := make(map[FailureCategory]bool)
	for _, c := range FailureCategories {
		assert.False(t, seen[c], "duplicate category %s", c)
		seen[c] = true
	}
}

func TestVulnerabilityValidate(t *testing.T) {
	tests := []struct {
		name    string
		vuln    Vulnerability
		wantErr bool
	}{
		{
			name: "complete",
			vuln: Vulnerability{ID: "v1", Title: "SQL injection"},
		},
		{
			name: "prompt only",
			vuln: Vulnerability{ID: "v2", FixUserPrompt: "fix it"},
		},
		{
			name:    "missing id",
			vuln:    Vulnerability{Title: "XSS"},
			wantErr: true,
		},
		{
			name:    "missing description",
			vuln:    Vulnerability{ID: "v3"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.vuln.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCommandCandidate(t *testing.T) {
	c := CommandCandidate{Executable: "npm", Text: "npm test", Origin: OriginMarkerFile}
	assert.Equal(t, "npm test", c.String())
	assert.False(t, c.IsZero())
	assert.True(t, CommandCandidate{}.IsZero())
}
