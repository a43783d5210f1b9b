package lookup

import (
	"errors"
	"testing"
)

func TestInvocationCycleStack(t *testing.T) {
	inv := NewInvocation(MapScope{})
	key := mustParseKey(t, "a")

	if err := inv.push(key); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if err := inv.push(key); !errors.Is(err, ErrCyclicLookup) {
		t.Fatalf("re-entering the same key must fail, got %v", err)
	}

	// The same key under a different module is a different stack entry.
	if err := inv.push(mustParseKey(t, "profile::a")); err != nil {
		t.Fatalf("module-qualified push failed: %v", err)
	}

	inv.pop()
	inv.pop()
	if err := inv.push(key); err != nil {
		t.Fatalf("push after pop failed: %v", err)
	}
}

func TestForLookupOptionsFreshStack(t *testing.T) {
	inv := NewInvocation(MapScope{}, WithExplainOptions())
	if err := inv.push(mustParseKey(t, "a")); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	helper := inv.forLookupOptions()
	if err := helper.push(mustParseKey(t, "a")); err != nil {
		t.Fatalf("the helper context must start with an empty stack, got %v", err)
	}
	if helper.explainOptions {
		t.Fatalf("the helper context must not inherit explain-options mode")
	}
	if helper.ID() != inv.ID() {
		t.Fatalf("the helper context must keep the invocation identity")
	}
}

func TestWithScopeSharesDiagnostics(t *testing.T) {
	hook := &recordingHook{}
	inv := NewInvocation(MapScope{"a": 1}, WithExplainHooks(hook))

	clone := inv.withScope(MapScope{"a": 2})
	if value, _ := clone.Scope().Get("a"); value != 2 {
		t.Fatalf("clone must read the new scope, got %v", value)
	}
	if value, _ := inv.Scope().Get("a"); value != 1 {
		t.Fatalf("the original scope must be untouched, got %v", value)
	}

	clone.ReportText(func() string { return "from clone" })
	if len(hook.texts) != 1 {
		t.Fatalf("the clone must report through the owner's hooks, got %d", len(hook.texts))
	}
}

func TestNewInvocationIDsUnique(t *testing.T) {
	a := NewInvocation(MapScope{})
	b := NewInvocation(MapScope{})
	if a.ID() == "" || a.ID() == b.ID() {
		t.Fatalf("invocations must carry distinct identifiers: %q %q", a.ID(), b.ID())
	}
}
