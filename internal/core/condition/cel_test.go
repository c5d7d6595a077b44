// SPDX-License-Identifier: Apache-2.0

package condition_test

import (
	"testing"

	"github.com/kusari-oss/darnfix/internal/core/condition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCELEvaluator(t *testing.T) {
	evaluator, err := condition.NewCELEvaluator()
	require.NoError(t, err, "Error creating CEL evaluator")

	tests := []struct {
		name       string
		expression string
		data       map[string]interface{}
		expected   bool
		wantErr    bool
	}{
		{
			name:       "marker present",
			expression: "'package.json' in markers",
			data: map[string]interface{}{
				"markers": []string{"package.json", "package-lock.json"},
			},
			expected: true,
		},
		{
			name:       "marker absent",
			expression: "'pom.xml' in markers",
			data: map[string]interface{}{
				"markers": []string{"package.json"},
			},
			expected: false,
		},
		{
			name:       "script and package manager",
			expression: "'test' in scripts && package_manager == 'yarn'",
			data: map[string]interface{}{
				"scripts":         []string{"build", "test"},
				"package_manager": "yarn",
			},
			expected: true,
		},
		{
			name:       "any marker matches suffix",
			expression: "markers.exists(m, m.endsWith('.csproj'))",
			data: map[string]interface{}{
				"markers": []string{"App.csproj"},
			},
			expected: true,
		},
		{
			name:       "root only rule in subdirectory",
			expression: "root && size(targets) > 0",
			data: map[string]interface{}{
				"root":    false,
				"targets": []string{"test"},
			},
			expected: false,
		},
		{
			name:       "defaults for missing variables",
			expression: "size(markers) == 0 && dir == '.'",
			data:       map[string]interface{}{},
			expected:   true,
		},
		{
			name:       "empty expression",
			expression: "",
			expected:   true,
		},
		{
			name:       "invalid syntax",
			expression: "'test' in",
			wantErr:    true,
		},
		{
			name:       "unknown variable",
			expression: "findings.policy == 'missing'",
			wantErr:    true,
		},
		{
			name:       "non boolean result",
			expression: "package_manager",
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.EvaluateExpression(tt.expression, tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestCELEvaluatorCachesPrograms(t *testing.T) {
	evaluator, err := condition.NewCELEvaluator()
	require.NoError(t, err)

	first, err := evaluator.Compile("'Makefile' in markers")
	require.NoError(t, err)
	second, err := evaluator.Compile("'Makefile' in markers")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
