package lookup

import (
	"encoding/json"
	"fmt"
	"os"

	sigsyaml "sigs.k8s.io/yaml"
)

// YAMLDataHash is the built-in hash-returning backend for YAML documents. An
// empty document yields an empty mapping; a non-mapping document is an error.
func YAMLDataHash(pctx *ProviderContext, options map[string]any) (map[string]any, error) {
	path, err := backendPath(pctx, options)
	if err != nil {
		return nil, err
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("yaml_data: %w", err)
	}
	if len(payload) == 0 {
		return map[string]any{}, nil
	}
	var doc map[string]any
	if err := sigsyaml.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("yaml_data: unable to parse %s: %w", path, err)
	}
	if doc == nil {
		return map[string]any{}, nil
	}
	return doc, nil
}

// JSONDataHash is the built-in hash-returning backend for JSON documents.
func JSONDataHash(pctx *ProviderContext, options map[string]any) (map[string]any, error) {
	path, err := backendPath(pctx, options)
	if err != nil {
		return nil, err
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("json_data: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("json_data: unable to parse %s: %w", path, err)
	}
	if doc == nil {
		return map[string]any{}, nil
	}
	return doc, nil
}

func backendPath(pctx *ProviderContext, options map[string]any) (string, error) {
	if pctx != nil && pctx.Location != nil {
		return pctx.Location.Resolved, nil
	}
	if path, ok := options["path"].(string); ok && path != "" {
		return path, nil
	}
	return "", fmt.Errorf("either a location or a 'path' option is required")
}
