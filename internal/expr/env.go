// Package expr wraps cel-go for the expression load-condition type: CEL
// programs evaluated against the request's custom context when deciding
// whether a gated rule joins the evaluation set.
package expr

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// Environment builds and compiles CEL programs against the resolution
// context.
type Environment struct {
	env *cel.Env
}

// NewEnvironment declares the CEL variables exposed to load-condition
// expressions: the custom context mapping, the effective feature flags, the
// specification environment, and the user id.
func NewEnvironment() (*Environment, error) {
	env, err := cel.NewEnv(
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("flags", cel.MapType(cel.StringType, cel.BoolType)),
		cel.Variable("env", cel.StringType),
		cel.Variable("userId", cel.StringType),
		cel.HomogeneousAggregateLiterals(),
	)
	if err != nil {
		return nil, fmt.Errorf("expr: build environment: %w", err)
	}
	return &Environment{env: env}, nil
}

// Program wraps a compiled CEL program that yields a boolean result.
type Program struct {
	source  string
	program cel.Program
}

// Compile prepares the expression for execution, ensuring it yields a
// boolean.
func (e *Environment) Compile(expression string) (Program, error) {
	source := strings.TrimSpace(expression)
	if source == "" {
		return Program{}, fmt.Errorf("expr: expression required")
	}
	ast, issues := e.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return Program{}, fmt.Errorf("expr: compile %q: %w", source, issues.Err())
	}
	if t := ast.OutputType(); t != cel.BoolType && t != cel.DynType {
		return Program{}, fmt.Errorf("expr: %q must return bool, got %s", source, cel.FormatCELType(t))
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return Program{}, fmt.Errorf("expr: program %q: %w", source, err)
	}
	return Program{source: source, program: program}, nil
}

// EvalBool executes the program against the provided activation and coerces
// the result to bool.
func (p Program) EvalBool(vars map[string]any) (bool, error) {
	if p.program == nil {
		return false, fmt.Errorf("expr: program not initialized")
	}
	val, _, err := p.program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("expr: eval %q: %w", p.source, err)
	}
	switch v := val.(type) {
	case types.Bool:
		return bool(v), nil
	case ref.Val:
		if v.Type() == types.BoolType {
			if b, ok := v.Value().(bool); ok {
				return b, nil
			}
		}
	}
	return false, fmt.Errorf("expr: %q yielded non-bool result %T", p.source, val)
}

// Source returns the original CEL expression for logging.
func (p Program) Source() string { return p.source }
