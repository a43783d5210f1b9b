package lookup

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/goliatone/go-lookup/pkg/explain"
)

// Invocation carries the state of one top-level lookup call chain: the active
// scope, the in-progress key stack used for cycle detection, override and
// default value maps, and the diagnostic sink. One invocation belongs to one
// caller; the engine only consumes it, never retains it.
type Invocation struct {
	id       string
	ctx      context.Context
	scope    Scope
	stack    []string
	override map[string]any
	defaults map[string]any
	hooks    explain.Hooks

	// explainOptions makes Lookup resolve and return the lookup-options
	// mapping instead of data.
	explainOptions bool
}

// InvocationOption configures an Invocation.
type InvocationOption func(*Invocation)

// WithContext attaches ctx to diagnostic notifications.
func WithContext(ctx context.Context) InvocationOption {
	return func(inv *Invocation) {
		if ctx != nil {
			inv.ctx = ctx
		}
	}
}

// WithOverrides supplies values consulted before any provider search. A hit
// short-circuits the tier stack.
func WithOverrides(values map[string]any) InvocationOption {
	return func(inv *Invocation) {
		inv.override = values
	}
}

// WithDefaults supplies values used when no tier produced a result.
func WithDefaults(values map[string]any) InvocationOption {
	return func(inv *Invocation) {
		inv.defaults = values
	}
}

// WithExplainHooks attaches diagnostic sinks to the invocation.
func WithExplainHooks(hooks ...explain.Hook) InvocationOption {
	return func(inv *Invocation) {
		for _, hook := range hooks {
			if hook != nil {
				inv.hooks = append(inv.hooks, hook)
			}
		}
	}
}

// WithExplainOptions requests lookup-options resolution only: Lookup reports
// how merge defaults resolve for the key and returns the options mapping
// instead of data.
func WithExplainOptions() InvocationOption {
	return func(inv *Invocation) {
		inv.explainOptions = true
	}
}

// NewInvocation builds the context for one top-level lookup against scope.
func NewInvocation(scope Scope, opts ...InvocationOption) *Invocation {
	inv := &Invocation{
		id:    uuid.NewString(),
		ctx:   context.Background(),
		scope: scope,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(inv)
		}
	}
	return inv
}

// ID returns the invocation identifier carried in diagnostic events.
func (inv *Invocation) ID() string { return inv.id }

// Scope returns the active variable environment.
func (inv *Invocation) Scope() Scope { return inv.scope }

// withScope returns a shallow copy reading variables from scope while sharing
// the cycle stack owner's diagnostics. Used to thread a tracking scope
// through configuration resolution.
func (inv *Invocation) withScope(scope Scope) *Invocation {
	clone := *inv
	clone.scope = scope
	return &clone
}

// forLookupOptions returns a helper context with its own empty in-progress
// stack, so resolving lookup_options never trips the cycle detector of the
// lookup that triggered it.
func (inv *Invocation) forLookupOptions() *Invocation {
	clone := *inv
	clone.stack = nil
	clone.explainOptions = false
	return &clone
}

// push registers (key, module) as in progress. Re-entering the same pair
// within one call chain is fatal.
func (inv *Invocation) push(key *Key) error {
	entry := key.ModuleName() + "\x00" + key.String()
	for _, existing := range inv.stack {
		if existing == entry {
			return fmt.Errorf("%w: %q", ErrCyclicLookup, key.String())
		}
	}
	inv.stack = append(inv.stack, entry)
	return nil
}

// pop removes the most recent in-progress entry. Runs unconditionally on
// exit from a lookup, whatever the outcome.
func (inv *Invocation) pop() {
	if len(inv.stack) > 0 {
		inv.stack = inv.stack[:len(inv.stack)-1]
	}
}

// ReportFound emits a found diagnostic for name.
func (inv *Invocation) ReportFound(name string, value any) {
	if !inv.hooks.Enabled() {
		return
	}
	_ = inv.hooks.Notify(inv.ctx, explain.Event{
		Kind:         explain.KindFound,
		InvocationID: inv.id,
		Key:          name,
		Value:        value,
		Found:        true,
	})
}

// ReportNotFound emits a not-found diagnostic for name.
func (inv *Invocation) ReportNotFound(name string) {
	if !inv.hooks.Enabled() {
		return
	}
	_ = inv.hooks.Notify(inv.ctx, explain.Event{
		Kind:         explain.KindNotFound,
		InvocationID: inv.id,
		Key:          name,
	})
}

// ReportText emits free-form diagnostic text. The message is built lazily so
// disabled sinks cost nothing.
func (inv *Invocation) ReportText(message func() string) {
	if !inv.hooks.Enabled() || message == nil {
		return
	}
	_ = inv.hooks.Notify(inv.ctx, explain.Event{
		Kind:         explain.KindText,
		InvocationID: inv.id,
		Text:         message(),
	})
}

// ReportLocationNotFound records a configured data location that does not
// exist.
func (inv *Invocation) ReportLocationNotFound(provider, location string) {
	if !inv.hooks.Enabled() {
		return
	}
	_ = inv.hooks.Notify(inv.ctx, explain.Event{
		Kind:         explain.KindLocationNotFound,
		InvocationID: inv.id,
		Provider:     provider,
		Location:     location,
	})
}

// ReportMergeSource records which pseudo-source won a merge decision.
func (inv *Invocation) ReportMergeSource(key, source string) {
	if !inv.hooks.Enabled() {
		return
	}
	_ = inv.hooks.Notify(inv.ctx, explain.Event{
		Kind:         explain.KindMergeSource,
		InvocationID: inv.id,
		Key:          key,
		Text:         source,
	})
}

// reportDeprecation emits a deprecation diagnostic. Deduplication happens in
// deprecationWarning, not here.
func (inv *Invocation) reportDeprecation(message string) {
	if !inv.hooks.Enabled() {
		return
	}
	_ = inv.hooks.Notify(inv.ctx, explain.Event{
		Kind:         explain.KindDeprecation,
		InvocationID: inv.id,
		Text:         message,
	})
}
