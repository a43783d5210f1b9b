package lookup

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/goliatone/go-lookup/merging"
)

// MergeKind identifies a combination algorithm over ordered lookup sources.
type MergeKind string

const (
	// MergeFirst returns the first source that produces a value.
	MergeFirst MergeKind = "first"
	// MergeUnique concatenates sequence values and de-duplicates them,
	// preserving first-occurrence order.
	MergeUnique MergeKind = "unique"
	// MergeHash shallow-merges mapping values key-by-key, leftmost wins.
	MergeHash MergeKind = "hash"
	// MergeDeep structurally merges values with precedence to earlier
	// sources.
	MergeDeep MergeKind = "deep"
	// MergeReverseDeep structurally merges values with precedence to later
	// sources. Legacy configuration maps its "deep" setting here and its
	// "deeper" setting to MergeDeep; that inversion is deliberate.
	MergeReverseDeep MergeKind = "reverse_deep"
)

// MergeStrategy governs how results from multiple ordered sources combine,
// both across locations within one provider and across the three tiers.
type MergeStrategy struct {
	kind MergeKind
	opts merging.Options
}

// DefaultMergeStrategy returns the first-found strategy.
func DefaultMergeStrategy() MergeStrategy {
	return MergeStrategy{kind: MergeFirst}
}

// NewMergeStrategy builds a strategy from nil (first-found), a string tag, or
// a map carrying a "strategy" discriminator plus merge options. Unrecognized
// tags are fatal.
func NewMergeStrategy(value any) (MergeStrategy, error) {
	switch v := value.(type) {
	case nil:
		return DefaultMergeStrategy(), nil
	case MergeStrategy:
		return v, nil
	case string:
		kind, err := parseMergeTag(v)
		if err != nil {
			return MergeStrategy{}, err
		}
		return MergeStrategy{kind: kind}, nil
	case map[string]any:
		tag, ok := v["strategy"].(string)
		if !ok {
			return MergeStrategy{}, fmt.Errorf("%w: merge map must carry a 'strategy' string", ErrUnrecognizedMerge)
		}
		kind, err := parseMergeTag(tag)
		if err != nil {
			return MergeStrategy{}, err
		}
		return MergeStrategy{kind: kind, opts: mergeOptionsFrom(v)}, nil
	default:
		return MergeStrategy{}, fmt.Errorf("%w: %T", ErrUnrecognizedMerge, value)
	}
}

func parseMergeTag(tag string) (MergeKind, error) {
	switch tag {
	case "first", "default":
		return MergeFirst, nil
	case "unique", "array":
		return MergeUnique, nil
	case "hash":
		return MergeHash, nil
	case "deep":
		return MergeDeep, nil
	case "reverse_deep":
		return MergeReverseDeep, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnrecognizedMerge, tag)
	}
}

func mergeOptionsFrom(m map[string]any) merging.Options {
	var opts merging.Options
	if prefix, ok := m["knockout_prefix"].(string); ok {
		opts.KnockoutPrefix = prefix
	}
	if flag, ok := m["merge_hash_arrays"].(bool); ok {
		opts.MergeHashArrays = flag
	}
	if flag, ok := m["sort_merged_arrays"].(bool); ok {
		opts.SortMergedArrays = flag
	}
	return opts
}

// Kind returns the combination algorithm.
func (s MergeStrategy) Kind() MergeKind {
	if s.kind == "" {
		return MergeFirst
	}
	return s.kind
}

// Label names the strategy for diagnostics.
func (s MergeStrategy) Label() string {
	return string(s.Kind())
}

// IsFirst reports whether the strategy stops at the first hit.
func (s MergeStrategy) IsFirst() bool {
	return s.Kind() == MergeFirst
}

// LegacyResolutionType converts the strategy into the resolution-type
// vocabulary spoken by legacy v3 backends. The deep/deeper names invert
// relative to the user-facing tags; downstream behavior depends on that
// inversion, so it is preserved exactly.
func (s MergeStrategy) LegacyResolutionType() any {
	switch s.Kind() {
	case MergeFirst:
		return nil
	case MergeUnique:
		return "array"
	case MergeHash:
		return map[string]any{"behavior": "native"}
	case MergeDeep:
		return map[string]any{"behavior": "deeper"}
	case MergeReverseDeep:
		return map[string]any{"behavior": "deep"}
	default:
		return nil
	}
}

// mergeSources drives sources in order through attempt, combining per the
// strategy. A source signals "nothing here" with ErrNotFound; any other error
// aborts immediately. The overall result is ErrNotFound only when no source
// produced a value.
func mergeSources[S any](strategy MergeStrategy, inv *Invocation, sources []S, attempt func(S) (any, error)) (any, error) {
	kind := strategy.Kind()
	var (
		collected []any
		found     bool
	)
	for _, source := range sources {
		value, err := attempt(source)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if kind == MergeFirst {
			return value, nil
		}
		collected = append(collected, value)
		found = true
	}
	if !found {
		return nil, ErrNotFound
	}

	switch kind {
	case MergeUnique:
		return mergeUnique(collected)
	case MergeHash:
		return mergeShallowHash(collected)
	case MergeDeep:
		result := merging.Clone(collected[0])
		for _, next := range collected[1:] {
			result = merging.Deep(result, next, strategy.opts)
		}
		return result, nil
	case MergeReverseDeep:
		result := merging.Clone(collected[0])
		for _, next := range collected[1:] {
			result = merging.Deep(next, result, strategy.opts)
		}
		return result, nil
	default:
		return nil, ErrNotFound
	}
}

func mergeUnique(values []any) (any, error) {
	var result []any
	appendUnique := func(element any) {
		for _, existing := range result {
			if reflect.DeepEqual(existing, element) {
				return
			}
		}
		result = append(result, element)
	}
	for _, value := range values {
		switch v := value.(type) {
		case map[string]any:
			return nil, fmt.Errorf("lookup: merge strategy unique cannot merge hash values")
		case []any:
			for _, element := range v {
				appendUnique(element)
			}
		default:
			appendUnique(value)
		}
	}
	return result, nil
}

func mergeShallowHash(values []any) (any, error) {
	result := map[string]any{}
	for _, value := range values {
		m, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("lookup: merge strategy hash requires hash values, got %T", value)
		}
		for key, element := range m {
			if _, exists := result[key]; exists {
				// Earlier sources already claimed the key; leftmost wins.
				continue
			}
			result[key] = merging.Clone(element)
		}
	}
	return result, nil
}
