package lookup

import (
	"fmt"
	"strings"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// CELInterpolatorOption configures the CEL interpolation engine.
type CELInterpolatorOption func(*celInterpolator)

// CELWithProgramCache wires a ProgramCache into the CEL engine.
func CELWithProgramCache(cache ProgramCache) CELInterpolatorOption {
	return func(e *celInterpolator) {
		e.cache = cache
	}
}

type celProgram struct {
	env     *celgo.Env
	program celgo.Program
}

// celInterpolator evaluates %{...} token contents as CEL expressions. Scope
// variables are exposed directly when the scope is map-backed, and always
// through the scope(name) function. Instances serve one session at a time;
// current tracks the invocation whose scope the compiled binding reads.
type celInterpolator struct {
	cache   ProgramCache
	current *Invocation
}

// NewCELInterpolator constructs an Interpolator backed by cel-go.
func NewCELInterpolator(opts ...CELInterpolatorOption) Interpolator {
	e := &celInterpolator{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Interpolate implements Interpolator.
func (e *celInterpolator) Interpolate(template string, inv *Invocation, preserveCase bool) (string, error) {
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

func (e *celInterpolator) evaluate(expression string, inv *Invocation) (any, error) {
	e.current = inv
	snapshot := scopeAsMap(inv.Scope())
	program, err := e.loadOrCompile(expression, snapshot)
	if err != nil {
		return nil, err
	}
	out, _, err := program.program.Eval(e.activation(snapshot))
	if err != nil {
		return nil, err
	}
	return out.Value(), nil
}

func (e *celInterpolator) loadOrCompile(expression string, snapshot map[string]any) (*celProgram, error) {
	if e.cache != nil {
		if cached, ok := e.cache.Get(expression); ok {
			if program, ok := cached.(*celProgram); ok {
				return program, nil
			}
		}
	}

	env, err := e.buildEnv(snapshot)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	checked, issues := env.Check(ast)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := env.Program(checked)
	if err != nil {
		return nil, err
	}

	bundle := &celProgram{
		env:     env,
		program: prg,
	}
	if e.cache != nil {
		e.cache.Set(expression, bundle)
	}
	return bundle, nil
}

func (e *celInterpolator) buildEnv(snapshot map[string]any) (*celgo.Env, error) {
	opts := []celgo.EnvOption{
		celgo.Function("scope", celgo.Overload(
			"scope_string",
			[]*celgo.Type{celgo.StringType},
			celgo.DynType,
			celgo.UnaryBinding(e.scopeBinding()),
		)),
	}
	for key := range snapshot {
		opts = append(opts, celgo.Variable(key, celgo.DynType))
	}
	return celgo.NewEnv(opts...)
}

func (e *celInterpolator) activation(snapshot map[string]any) map[string]any {
	activation := map[string]any{}
	for key, value := range snapshot {
		activation[key] = value
	}
	return activation
}

func (e *celInterpolator) scopeBinding() func(ref.Val) ref.Val {
	return func(arg ref.Val) ref.Val {
		name, ok := arg.Value().(string)
		if !ok {
			return types.NewErr("lookup: scope name must be string")
		}
		if e.current == nil {
			return types.NullValue
		}
		value, found := e.current.Scope().Get(name)
		if !found || value == nil {
			return types.NullValue
		}
		return types.DefaultTypeAdapter.NativeToValue(value)
	}
}
