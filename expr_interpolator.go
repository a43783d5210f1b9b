package lookup

import (
	"fmt"
	"strings"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// ExprInterpolatorOption configures an expr interpolation engine.
type ExprInterpolatorOption func(*exprInterpolator)

// ExprWithProgramCache wires a ProgramCache into the expr engine.
func ExprWithProgramCache(cache ProgramCache) ExprInterpolatorOption {
	return func(e *exprInterpolator) {
		e.cache = cache
	}
}

// exprInterpolator evaluates %{...} token contents as expressions using
// github.com/expr-lang/expr. Scope variables are exposed directly when the
// scope is map-backed, and always through the scope(name) helper.
type exprInterpolator struct {
	cache ProgramCache
}

// NewExprInterpolator constructs an Interpolator backed by expr-lang/expr.
func NewExprInterpolator(opts ...ExprInterpolatorOption) Interpolator {
	e := &exprInterpolator{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Interpolate implements Interpolator.
func (e *exprInterpolator) Interpolate(template string, inv *Invocation, preserveCase bool) (string, error) {
	if !strings.Contains(template, "%{") {
		return template, nil
	}
	segments, err := splitTemplate(template)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for _, segment := range segments {
		if !segment.token {
			out.WriteString(segment.text)
			continue
		}
		if segment.text == "" {
			continue
		}
		value, err := e.evaluate(segment.text, inv)
		if err != nil {
			return "", fmt.Errorf("interpolation of %q failed: %w", segment.text, err)
		}
		expanded := stringifyScopeValue(value)
		if !preserveCase {
			expanded = strings.ToLower(expanded)
		}
		out.WriteString(expanded)
	}
	return out.String(), nil
}

func (e *exprInterpolator) evaluate(expression string, inv *Invocation) (any, error) {
	env := e.environment(inv)
	if e.cache == nil {
		return exprlang.Eval(expression, env)
	}
	program, err := e.loadOrCompile(expression)
	if err != nil {
		return nil, err
	}
	return exprlang.Run(program, env)
}

func (e *exprInterpolator) loadOrCompile(expression string) (*exprvm.Program, error) {
	if cached, ok := e.cache.Get(expression); ok {
		if program, ok := cached.(*exprvm.Program); ok {
			return program, nil
		}
	}
	program, err := exprlang.Compile(expression,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, err
	}
	e.cache.Set(expression, program)
	return program, nil
}

func (e *exprInterpolator) environment(inv *Invocation) map[string]any {
	env := map[string]any{
		"scope": func(name string) any {
			value, _ := inv.Scope().Get(name)
			return value
		},
	}
	for key, value := range scopeAsMap(inv.Scope()) {
		env[key] = value
	}
	return env
}
