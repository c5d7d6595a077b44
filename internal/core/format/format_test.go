// SPDX-License-Identifier: Apache-2.0

package format_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/kusari-oss/darnfix/internal/core/format"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type sample struct {
	Name  string `json:"name" yaml:"name"`
	Count int    `json:"count" yaml:"count"`
}

func TestParseData(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    sample
		wantErr bool
	}{
		{"yaml", "name: demo\ncount: 2\n", sample{Name: "demo", Count: 2}, false},
		{"json", `{"name": "demo", "count": 3}`, sample{Name: "demo", Count: 3}, false},
		{"garbage", "name: [", sample{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got sample
			err := format.ParseData([]byte(tt.data), &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadVulnerabilities(t *testing.T) {
	dir := t.TempDir()

	single := filepath.Join(dir, "single.yaml")
	require.NoError(t, os.WriteFile(single, []byte("id: VULN-1\ntitle: SQL injection in search\nrule_name: sqli\n"), 0644))

	batch := filepath.Join(dir, "batch.json")
	require.NoError(t, os.WriteFile(batch, []byte(`{"vulnerabilities": [
		{"id": "VULN-2", "title": "XSS"},
		{"id": "VULN-3", "fix_user_prompt": "Upgrade lodash"}
	]}`), 0644))

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("title: no id\n"), 0644))

	vulns, err := format.LoadVulnerabilities(single)
	require.NoError(t, err)
	require.Len(t, vulns, 1)
	assert.Equal(t, "VULN-1", vulns[0].ID)
	assert.Equal(t, "sqli", vulns[0].RuleName)

	vulns, err = format.LoadVulnerabilities(batch)
	require.NoError(t, err)
	require.Len(t, vulns, 2)
	assert.Equal(t, "VULN-3", vulns[1].ID)

	_, err = format.LoadVulnerabilities(invalid)
	assert.Error(t, err)

	_, err = format.LoadVulnerabilities(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	value := sample{Name: "report", Count: 1}

	jsonPath := filepath.Join(dir, "out", "report.json")
	require.NoError(t, format.WriteFile(jsonPath, value))
	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var fromJSON sample
	require.NoError(t, json.Unmarshal(data, &fromJSON))
	assert.Equal(t, value, fromJSON)

	yamlPath := filepath.Join(dir, "report.yaml")
	require.NoError(t, format.WriteFile(yamlPath, value))
	data, err = os.ReadFile(yamlPath)
	require.NoError(t, err)
	var fromYAML sample
	require.NoError(t, yaml.Unmarshal(data, &fromYAML))
	assert.Equal(t, value, fromYAML)
}

func TestIsJSONFile(t *testing.T) {
	assert.True(t, format.IsJSONFile("a.JSON"))
	assert.False(t, format.IsJSONFile("a.yaml"))
	assert.False(t, format.IsJSONFile("a"))
}
