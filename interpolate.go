package lookup

import (
	"fmt"
	"strings"
)

// Interpolator expands %{...} tokens in a template against the invocation
// scope. When preserveCase is false, expanded values are lowercased so that
// interpolated file-system locations stay case-stable.
type Interpolator interface {
	Interpolate(template string, inv *Invocation, preserveCase bool) (string, error)
}

// templateSegment is either literal text or the content of one %{...} token.
type templateSegment struct {
	text  string
	token bool
}

// splitTemplate scans template into literal and token segments. An
// unterminated token is an error; empty tokens expand to nothing.
func splitTemplate(template string) ([]templateSegment, error) {
	var segments []templateSegment
	rest := template
	for {
		idx := strings.Index(rest, "%{")
		if idx < 0 {
			if rest != "" {
				segments = append(segments, templateSegment{text: rest})
			}
			return segments, nil
		}
		if idx > 0 {
			segments = append(segments, templateSegment{text: rest[:idx]})
		}
		rest = rest[idx+2:]
		end := strings.Index(rest, "}")
		if end < 0 {
			return nil, fmt.Errorf("unterminated %%{} token in %q", template)
		}
		segments = append(segments, templateSegment{text: strings.TrimSpace(rest[:end]), token: true})
		rest = rest[end+1:]
	}
}

// ScopeInterpolator is the default interpolation engine: a token is a scope
// variable reference (dotted names navigate nested values), or one of the
// functions literal('text') and scope('name').
type ScopeInterpolator struct{}

// NewScopeInterpolator constructs the default engine.
func NewScopeInterpolator() Interpolator {
	return &ScopeInterpolator{}
}

// Interpolate implements Interpolator.
func (e *ScopeInterpolator) Interpolate(template string, inv *Invocation, preserveCase bool) (string, error) {
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
		expanded, err := e.expand(segment.text, inv)
		if err != nil {
			return "", err
		}
		if !preserveCase {
			expanded = strings.ToLower(expanded)
		}
		out.WriteString(expanded)
	}
	return out.String(), nil
}

func (e *ScopeInterpolator) expand(token string, inv *Invocation) (string, error) {
	if token == "" {
		return "", nil
	}
	if name, ok := interpolationCall(token, "literal"); ok {
		return name, nil
	}
	name := token
	if inner, ok := interpolationCall(token, "scope"); ok {
		name = inner
	}
	value, ok := inv.Scope().Get(name)
	if !ok || value == nil {
		// An unknown variable expands to the empty string; the tracking
		// scope has already recorded the miss for snapshot invalidation.
		return "", nil
	}
	return stringifyScopeValue(value), nil
}

// interpolationCall matches fn('arg') or fn("arg") and returns the argument.
func interpolationCall(token, fn string) (string, bool) {
	if !strings.HasPrefix(token, fn+"(") || !strings.HasSuffix(token, ")") {
		return "", false
	}
	arg := strings.TrimSpace(token[len(fn)+1 : len(token)-1])
	if len(arg) >= 2 {
		if (arg[0] == '\'' && arg[len(arg)-1] == '\'') || (arg[0] == '"' && arg[len(arg)-1] == '"') {
			return arg[1 : len(arg)-1], true
		}
	}
	return "", false
}

func stringifyScopeValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// scopeAsMap exposes map-backed scopes to expression engines.
func scopeAsMap(scope Scope) map[string]any {
	if m, ok := scope.(MapScope); ok {
		return m
	}
	return map[string]any{}
}
