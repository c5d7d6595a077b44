// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// ValidationError lists every violation found in a document
type ValidationError struct {
	Subject  string
	Problems []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s validation failed:\n", e.Subject)
	for _, p := range e.Problems {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	return b.String()
}

// Validate checks document against a JSON schema. The document is round
// tripped through JSON so that values decoded from YAML validate the same way.
func Validate(schema []byte, document interface{}, subject string) error {
	docBytes, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("schema validation error: failed to serialize %s: %w", subject, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewBytesLoader(docBytes),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		verr := &ValidationError{Subject: subject}
		for _, e := range result.Errors() {
			verr.Problems = append(verr.Problems, e.String())
		}
		return verr
	}

	return nil
}

// ValidateYAML parses YAML data and validates it against schema. Empty
// documents validate as an empty object.
func ValidateYAML(schema []byte, data []byte, subject string) error {
	var document interface{}
	if err := yaml.Unmarshal(data, &document); err != nil {
		return fmt.Errorf("error parsing %s: %w", subject, err)
	}
	if document == nil {
		document = map[string]interface{}{}
	}
	return Validate(schema, document, subject)
}
