// SPDX-License-Identifier: Apache-2.0

package template

import (
	"bytes"
	"fmt"
	"io/fs"
	"strings"
	"text/template"
)

var funcs = template.FuncMap{
	"join":  strings.Join,
	"trim":  strings.TrimSpace,
	"quote": func(s string) string { return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'" },
	"add":   func(a, b int) int { return a + b },
}

// ProcessString renders a template string. Missing keys are errors so a
// typo in a rule or prompt never produces a silently broken command.
func ProcessString(text string, data interface{}) (string, error) {
	return process("template", text, data)
}

// ProcessFS renders the template stored at path in fsys
func ProcessFS(fsys fs.FS, path string, data interface{}) (string, error) {
	content, err := fs.ReadFile(fsys, path)
	if err != nil {
		return "", fmt.Errorf("error reading template file %s: %w", path, err)
	}
	return process(path, string(content), data)
}

func process(name, text string, data interface{}) (string, error) {
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("error parsing template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("error executing template: %w", err)
	}

	return buf.String(), nil
}
