// SPDX-License-Identifier: Apache-2.0

package format

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kusari-oss/darnfix/internal/core/models"
	"gopkg.in/yaml.v3"
)

// ParseData parses data, trying YAML first, then JSON
func ParseData(data []byte, v interface{}) error {
	err := yaml.Unmarshal(data, v)
	if err == nil {
		return nil
	}

	jsonErr := json.Unmarshal(data, v)
	if jsonErr == nil {
		return nil
	}

	return fmt.Errorf("failed to parse as YAML (%v) or JSON (%v)", err, jsonErr)
}

// LoadVulnerabilities reads either a single vulnerability or a document with
// a top-level vulnerabilities list. Every entry is validated.
func LoadVulnerabilities(filePath string) ([]models.Vulnerability, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading vulnerability file: %w", err)
	}

	var batch models.VulnerabilityFile
	if err := ParseData(data, &batch); err == nil && len(batch.Vulnerabilities) > 0 {
		return validated(batch.Vulnerabilities)
	}

	var single models.Vulnerability
	if err := ParseData(data, &single); err != nil {
		return nil, fmt.Errorf("error parsing vulnerability file %s: %w", filePath, err)
	}
	return validated([]models.Vulnerability{single})
}

func validated(vulns []models.Vulnerability) ([]models.Vulnerability, error) {
	for i, v := range vulns {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("vulnerability %d: %w", i, err)
		}
	}
	return vulns, nil
}

// WriteFile writes data to a file in the format implied by its extension.
// JSON for .json, YAML otherwise.
func WriteFile(filePath string, v interface{}) error {
	data, err := Marshal(v, !IsJSONFile(filePath))
	if err != nil {
		return err
	}

	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating directory %s: %w", dir, err)
		}
	}
	return os.WriteFile(filePath, data, 0644)
}

// Marshal encodes v as YAML or indented JSON
func Marshal(v interface{}, useYAML bool) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if useYAML {
		data, err = yaml.Marshal(v)
	} else {
		data, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return nil, fmt.Errorf("error marshaling data: %w", err)
	}
	return data, nil
}

// IsJSONFile returns true if the file extension suggests it's a JSON file
func IsJSONFile(filePath string) bool {
	return strings.ToLower(filepath.Ext(filePath)) == ".json"
}
