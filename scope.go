package lookup

import (
	"reflect"
	"strings"
)

// Scope provides read access to the variable environment of one session.
// Names may be dotted to navigate nested structures ("facts.os.family").
type Scope interface {
	Get(name string) (any, bool)
}

// ScopeFunc adapts a function to Scope.
type ScopeFunc func(name string) (any, bool)

// Get implements Scope.
func (fn ScopeFunc) Get(name string) (any, bool) {
	if fn == nil {
		return nil, false
	}
	return fn(name)
}

// MapScope is a Scope over a plain map. Dotted names navigate into nested
// map[string]any values.
type MapScope map[string]any

// Get implements Scope.
func (s MapScope) Get(name string) (any, bool) {
	if s == nil || name == "" {
		return nil, false
	}
	if value, ok := s[name]; ok {
		return value, true
	}
	parts := strings.Split(name, ".")
	var current any = map[string]any(s)
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// trackingScope records every variable read through it, capturing the
// interpolation snapshot used to decide when a cached hierarchy resolution
// has gone stale.
type trackingScope struct {
	inner Scope
	seen  map[string]any
}

func newTrackingScope(inner Scope) *trackingScope {
	return &trackingScope{inner: inner, seen: map[string]any{}}
}

func (s *trackingScope) Get(name string) (any, bool) {
	var value any
	var ok bool
	if s.inner != nil {
		value, ok = s.inner.Get(name)
	}
	// Missing variables are captured too: a variable that later appears must
	// also invalidate the snapshot.
	s.seen[name] = value
	return value, ok
}

// snapshot returns the captured (variable → value) pairs.
func (s *trackingScope) snapshot() map[string]any {
	return s.seen
}

// snapshotStable reports whether every captured variable still resolves to
// the same value in scope.
func snapshotStable(snapshot map[string]any, scope Scope) bool {
	for name, captured := range snapshot {
		var live any
		if scope != nil {
			live, _ = scope.Get(name)
		}
		if !reflect.DeepEqual(captured, live) {
			return false
		}
	}
	return true
}
