// Package merging implements the recursive structural merge used by the deep
// merge strategies: mapping values combine key-by-key, sequence values
// combine element-wise, and a configurable knockout prefix turns a value into
// a deletion instead of an override.
package merging

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Options control structural merging. The zero value merges mappings
// recursively, unions sequences, and never deletes.
type Options struct {
	// KnockoutPrefix marks string values as deletions: a map value (or array
	// element) whose string form starts with the prefix removes the matching
	// entry from the weaker side instead of overriding it.
	KnockoutPrefix string
	// MergeHashArrays merges arrays of mappings element-wise instead of
	// unioning them.
	MergeHashArrays bool
	// SortMergedArrays sorts merged sequences by their string form.
	SortMergedArrays bool
}

// Deep merges strong over weak: explicit entries in strong win, missing data
// is filled from weak, and nested mappings recurse. Inputs are never mutated.
func Deep(strong, weak any, opts Options) any {
	strongMap, strongOK := strong.(map[string]any)
	weakMap, weakOK := weak.(map[string]any)
	if strongOK && weakOK {
		return mergeMaps(strongMap, weakMap, opts)
	}

	strongSeq, strongSeqOK := strong.([]any)
	weakSeq, weakSeqOK := weak.([]any)
	if strongSeqOK && weakSeqOK {
		return mergeSequences(strongSeq, weakSeq, opts)
	}

	if strong == nil {
		return Clone(weak)
	}
	return Clone(strong)
}

func mergeMaps(strong, weak map[string]any, opts Options) map[string]any {
	result := make(map[string]any, len(strong)+len(weak))
	for key, value := range weak {
		result[key] = Clone(value)
	}
	for key, value := range strong {
		if opts.knocksOut(value) {
			delete(result, key)
			continue
		}
		if existing, ok := result[key]; ok {
			result[key] = Deep(value, existing, opts)
			continue
		}
		result[key] = Clone(value)
	}
	return result
}

// mergeSequences unions weak then the strong elements not already present.
// With MergeHashArrays, parallel mapping elements merge pairwise instead.
func mergeSequences(strong, weak []any, opts Options) []any {
	if opts.MergeHashArrays && allMaps(strong) && allMaps(weak) {
		length := len(strong)
		if len(weak) > length {
			length = len(weak)
		}
		result := make([]any, 0, length)
		for i := 0; i < length; i++ {
			switch {
			case i >= len(strong):
				result = append(result, Clone(weak[i]))
			case i >= len(weak):
				result = append(result, Clone(strong[i]))
			default:
				result = append(result, Deep(strong[i], weak[i], opts))
			}
		}
		return opts.sorted(result)
	}

	result := make([]any, 0, len(strong)+len(weak))
	for _, element := range weak {
		result = append(result, Clone(element))
	}
	var knockouts []string
	for _, element := range strong {
		if target, ok := opts.knockoutTarget(element); ok {
			knockouts = append(knockouts, target)
			continue
		}
		if containsElement(result, element) {
			continue
		}
		result = append(result, Clone(element))
	}
	for _, target := range knockouts {
		result = removeElement(result, target)
	}
	return opts.sorted(result)
}

func (o Options) knocksOut(value any) bool {
	if o.KnockoutPrefix == "" {
		return false
	}
	s, ok := value.(string)
	return ok && strings.HasPrefix(s, o.KnockoutPrefix)
}

// knockoutTarget returns the element name a knockout entry removes.
func (o Options) knockoutTarget(value any) (string, bool) {
	if o.KnockoutPrefix == "" {
		return "", false
	}
	s, ok := value.(string)
	if !ok || !strings.HasPrefix(s, o.KnockoutPrefix) {
		return "", false
	}
	return strings.TrimPrefix(s, o.KnockoutPrefix), true
}

func (o Options) sorted(seq []any) []any {
	if !o.SortMergedArrays {
		return seq
	}
	sort.SliceStable(seq, func(i, j int) bool {
		return fmt.Sprint(seq[i]) < fmt.Sprint(seq[j])
	})
	return seq
}

func allMaps(seq []any) bool {
	for _, element := range seq {
		if _, ok := element.(map[string]any); !ok {
			return false
		}
	}
	return len(seq) > 0
}

func containsElement(seq []any, element any) bool {
	for _, existing := range seq {
		if reflect.DeepEqual(existing, element) {
			return true
		}
	}
	return false
}

func removeElement(seq []any, target string) []any {
	out := seq[:0]
	for _, element := range seq {
		if s, ok := element.(string); ok && s == target {
			continue
		}
		out = append(out, element)
	}
	return out
}

// Clone deep-copies the dynamic value shapes produced by document parsing
// (mappings, sequences, scalars).
func Clone(value any) any {
	switch v := value.(type) {
	case map[string]any:
		clone := make(map[string]any, len(v))
		for key, element := range v {
			clone[key] = Clone(element)
		}
		return clone
	case []any:
		clone := make([]any, len(v))
		for i, element := range v {
			clone[i] = Clone(element)
		}
		return clone
	default:
		return v
	}
}
