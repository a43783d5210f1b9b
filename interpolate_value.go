package lookup

import "strings"

// interpolateValue expands %{...} tokens inside string values retrieved from
// data, walking mappings and sequences recursively. Values pass through
// untouched when no interpolator is configured or no token is present.
func interpolateValue(value any, inv *Invocation, interp Interpolator) (any, error) {
	if interp == nil {
		return value, nil
	}
	switch v := value.(type) {
	case string:
		if !strings.Contains(v, "%{") {
			return v, nil
		}
		return interp.Interpolate(v, inv, true)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, element := range v {
			expanded, err := interpolateValue(element, inv, interp)
			if err != nil {
				return nil, err
			}
			out[key] = expanded
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, element := range v {
			expanded, err := interpolateValue(element, inv, interp)
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	default:
		return value, nil
	}
}
