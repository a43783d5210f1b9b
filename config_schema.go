package lookup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Per-version document schemas. Validation catches shape errors up front;
// semantic rules (exactly one function kind, duplicate names, version
// support) are enforced during construction where the errors can name the
// offending entry.
const (
	configSchemaV3 = `{
		"type": "object",
		"properties": {
			"version": {"type": "integer"},
			"backends": {
				"anyOf": [
					{"type": "string"},
					{"type": "array", "items": {"type": "string"}}
				]
			},
			"hierarchy": {
				"anyOf": [
					{"type": "string"},
					{"type": "array", "items": {"type": "string"}}
				]
			},
			"merge_behavior": {"type": "string"},
			"deep_merge_options": {"type": "object"},
			"logger": {"type": "string"}
		}
	}`

	configSchemaV4 = `{
		"type": "object",
		"required": ["version", "hierarchy"],
		"properties": {
			"version": {"type": "integer"},
			"datadir": {"type": "string"},
			"hierarchy": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["backend"],
					"properties": {
						"backend": {"type": "string"},
						"name": {"type": "string"},
						"datadir": {"type": "string"},
						"path": {"type": "string"},
						"paths": {"type": "array", "items": {"type": "string"}}
					},
					"additionalProperties": false
				}
			}
		},
		"additionalProperties": false
	}`

	configSchemaV5 = `{
		"type": "object",
		"required": ["version"],
		"properties": {
			"version": {"type": "integer"},
			"defaults": {
				"type": "object",
				"properties": {
					"data_hash": {"type": "string"},
					"lookup_key": {"type": "string"},
					"data_dig": {"type": "string"},
					"datadir": {"type": "string"},
					"options": {"type": "object"}
				},
				"additionalProperties": false
			},
			"hierarchy": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["name"],
					"properties": {
						"name": {"type": "string"},
						"data_hash": {"type": "string"},
						"lookup_key": {"type": "string"},
						"data_dig": {"type": "string"},
						"v4_data_hash": {"type": "string"},
						"datadir": {"type": "string"},
						"options": {"type": "object"},
						"path": {"type": "string"},
						"paths": {"type": "array", "items": {"type": "string"}},
						"glob": {"type": "string"},
						"globs": {"type": "array", "items": {"type": "string"}},
						"uri": {"type": "string"},
						"uris": {"type": "array", "items": {"type": "string"}}
					},
					"additionalProperties": false
				}
			}
		},
		"additionalProperties": false
	}`
)

var (
	schemaOnce     sync.Once
	schemaCompiled map[int]*jsonschema.Schema
	schemaErr      error
)

func compiledSchema(version int) (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		sources := map[int]string{
			3: configSchemaV3,
			4: configSchemaV4,
			5: configSchemaV5,
		}
		compiler := jsonschema.NewCompiler()
		schemaCompiled = make(map[int]*jsonschema.Schema, len(sources))
		for v, source := range sources {
			url := fmt.Sprintf("lookup://config-v%d.json", v)
			doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
			if err != nil {
				schemaErr = err
				return
			}
			if err := compiler.AddResource(url, doc); err != nil {
				schemaErr = err
				return
			}
			compiled, err := compiler.Compile(url)
			if err != nil {
				schemaErr = err
				return
			}
			schemaCompiled[v] = compiled
		}
	})
	if schemaErr != nil {
		return nil, schemaErr
	}
	schema, ok := schemaCompiled[version]
	if !ok {
		return nil, fmt.Errorf("no schema for version %d", version)
	}
	return schema, nil
}

// validateDocument asserts document against the schema for version. The
// document is round-tripped through JSON so Go-native numbers validate the
// same way decoded YAML does.
func validateDocument(source string, version int, document map[string]any) error {
	schema, err := compiledSchema(version)
	if err != nil {
		return &ConfigError{Source: source, Msg: "schema unavailable", Err: err}
	}
	payload, err := json.Marshal(document)
	if err != nil {
		return &ConfigError{Source: source, Msg: "document is not serialisable", Err: err}
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return &ConfigError{Source: source, Msg: "document is not valid JSON", Err: err}
	}
	if err := schema.Validate(instance); err != nil {
		return &ConfigError{Source: source, Msg: fmt.Sprintf("version %d document is invalid", version), Err: err}
	}
	return nil
}
