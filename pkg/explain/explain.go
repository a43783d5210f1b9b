// Package explain fans out lookup diagnostics to pluggable sinks. Events
// describe what the resolution engine did — which provider answered, which
// locations were missing, which merge source won — without ever altering
// control flow.
package explain

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Kind classifies a diagnostic event.
type Kind string

const (
	// KindFound reports a key resolved by a provider or tier.
	KindFound Kind = "found"
	// KindNotFound reports a key a provider or tier could not resolve.
	KindNotFound Kind = "not_found"
	// KindText carries free-form diagnostic text.
	KindText Kind = "text"
	// KindLocationNotFound reports a configured data location that does not
	// exist.
	KindLocationNotFound Kind = "location_not_found"
	// KindMergeSource reports which pseudo-source won a merge decision.
	KindMergeSource Kind = "merge_source"
	// KindDeprecation carries a deprecation notice.
	KindDeprecation Kind = "deprecation"
)

// Event describes one diagnostic occurrence.
type Event struct {
	Kind         Kind      `json:"kind"`
	InvocationID string    `json:"invocation_id,omitempty"`
	Key          string    `json:"key,omitempty"`
	Module       string    `json:"module,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	Location     string    `json:"location,omitempty"`
	Text         string    `json:"text,omitempty"`
	Value        any       `json:"value,omitempty"`
	Found        bool      `json:"found,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Hook receives normalized diagnostic events.
type Hook interface {
	Notify(ctx context.Context, event Event) error
}

// HookFunc allows plain functions to satisfy Hook.
type HookFunc func(ctx context.Context, event Event) error

// Notify dispatches to the underlying function.
func (fn HookFunc) Notify(ctx context.Context, event Event) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, event)
}

// Hooks fans out events to zero or more hooks.
type Hooks []Hook

// Enabled reports whether there are any hooks to notify.
func (h Hooks) Enabled() bool {
	return len(h) > 0
}

// Notify forwards the event to all hooks, returning a joined error if any
// fail. Events without a kind are dropped.
func (h Hooks) Notify(ctx context.Context, event Event) error {
	if len(h) == 0 {
		return nil
	}

	normalized := NormalizeEvent(event)
	if normalized.Kind == "" {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for _, hook := range h {
		if hook == nil {
			continue
		}
		if err := hook.Notify(ctx, normalized); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// NormalizeEvent trims identifiers and ensures a timestamp is present.
func NormalizeEvent(event Event) Event {
	normalized := event
	normalized.Key = strings.TrimSpace(event.Key)
	normalized.Module = strings.TrimSpace(event.Module)
	normalized.Provider = strings.TrimSpace(event.Provider)
	normalized.Location = strings.TrimSpace(event.Location)
	if normalized.OccurredAt.IsZero() {
		normalized.OccurredAt = time.Now()
	}
	return normalized
}
