// SPDX-License-Identifier: Apache-2.0

package condition

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// Variables available to detection rule conditions
const (
	VarMarkers        = "markers"
	VarScripts        = "scripts"
	VarTargets        = "targets"
	VarPackageManager = "package_manager"
	VarDir            = "dir"
	VarRoot           = "root"
)

// CELEvaluator handles evaluation of CEL expressions over project facts
type CELEvaluator struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[string]cel.Program
}

// NewCELEvaluator creates a new CEL evaluator
func NewCELEvaluator() (*CELEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable(VarMarkers, cel.ListType(cel.StringType)),
		cel.Variable(VarScripts, cel.ListType(cel.StringType)),
		cel.Variable(VarTargets, cel.ListType(cel.StringType)),
		cel.Variable(VarPackageManager, cel.StringType),
		cel.Variable(VarDir, cel.StringType),
		cel.Variable(VarRoot, cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL environment: %w", err)
	}

	return &CELEvaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

// Compile parses and type-checks an expression, caching the program
func (e *CELEvaluator) Compile(expression string) (cel.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.programs[expression]; ok {
		return prg, nil
	}

	ast, issues := e.env.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("error parsing expression: %w", issues.Err())
	}

	checked, issues := e.env.Check(ast)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("error type-checking expression: %w", issues.Err())
	}
	if !checked.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression %q must evaluate to a boolean, got %s", expression, checked.OutputType())
	}

	program, err := e.env.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("error compiling expression: %w", err)
	}

	e.programs[expression] = program
	return program, nil
}

// EvaluateExpression evaluates a CEL expression against data. An empty
// expression is always true.
func (e *CELEvaluator) EvaluateExpression(expression string, data map[string]interface{}) (bool, error) {
	if expression == "" {
		return true, nil
	}

	program, err := e.Compile(expression)
	if err != nil {
		return false, err
	}

	vars := map[string]interface{}{
		VarMarkers:        []string{},
		VarScripts:        []string{},
		VarTargets:        []string{},
		VarPackageManager: "",
		VarDir:            ".",
		VarRoot:           true,
	}
	for k, v := range data {
		vars[k] = v
	}

	result, _, err := program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("error evaluating expression: %w", err)
	}

	if result.Type() != types.BoolType {
		return false, fmt.Errorf("expression did not evaluate to a boolean")
	}

	return result.Value().(bool), nil
}
