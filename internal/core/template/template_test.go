// SPDX-License-Identifier: Apache-2.0

package template_test

import (
	"testing"
	"testing/fstest"

	"github.com/kusari-oss/darnfix/internal/core/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessString(t *testing.T) {
	tests := []struct {
		name     string
		template string
		data     interface{}
		expected string
		wantErr  bool
	}{
		{
			name:     "map data",
			template: "{{.PackageManager}} test",
			data:     map[string]interface{}{"PackageManager": "yarn"},
			expected: "yarn test",
		},
		{
			name:     "struct data",
			template: "mvn -f {{.Dir}}/pom.xml test",
			data:     struct{ Dir string }{Dir: "services/api"},
			expected: "mvn -f services/api/pom.xml test",
		},
		{
			name:     "conditional",
			template: "{{if .Root}}npm test{{else}}npm --prefix {{.Dir}} test{{end}}",
			data:     map[string]interface{}{"Root": false, "Dir": "web"},
			expected: "npm --prefix web test",
		},
		{
			name:     "helper functions",
			template: "{{join .Files \", \"}} {{quote .Msg}}",
			data:     map[string]interface{}{"Files": []string{"a.go", "b.go"}, "Msg": "it's"},
			expected: `a.go, b.go 'it'\''s'`,
		},
		{
			name:     "missing key",
			template: "{{.Missing}}",
			data:     map[string]interface{}{},
			wantErr:  true,
		},
		{
			name:     "invalid template",
			template: "{{.Unclosed",
			data:     map[string]interface{}{},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := template.ProcessString(tt.template, tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestProcessFS(t *testing.T) {
	fsys := fstest.MapFS{
		"prompts/qa.tmpl": &fstest.MapFile{Data: []byte("Attempt {{add .N 1}}")},
	}

	out, err := template.ProcessFS(fsys, "prompts/qa.tmpl", map[string]int{"N": 1})
	require.NoError(t, err)
	assert.Equal(t, "Attempt 2", out)

	_, err = template.ProcessFS(fsys, "prompts/missing.tmpl", nil)
	assert.Error(t, err)
}
