package lookup

import (
	"fmt"
	"os"
	"sync"

	sigsyaml "sigs.k8s.io/yaml"
)

// SynthesizedSource names the configuration source used when no real
// document is present and a default hierarchy is synthesized instead.
const SynthesizedSource = "<synthesized>"

// defaultDatadir roots relative data locations when a document does not
// declare one.
const defaultDatadir = "data"

// HierarchyConfig is one resolved generation of a configuration document: the
// schema version, the ordered provider list, the version-level default merge
// strategy (v3 merge_behavior only), and the interpolation snapshot that
// decides when this generation is stale.
type HierarchyConfig struct {
	Version      int
	Providers    []DataProvider
	DefaultMerge *MergeStrategy

	snapshot map[string]any
}

// ConfigResolver parses and validates a raw configuration document into an
// ordered provider list. Resolution is cached; the cache is invalidated if
// and only if a scope variable captured during the last interpolation pass
// has drifted.
type ConfigResolver struct {
	source      string
	document    map[string]any
	synthesized bool
	registry    *BackendRegistry
	interp      Interpolator

	mu     sync.Mutex
	cached *HierarchyConfig
}

// NewConfigResolver wraps an already-decoded configuration document. source
// names the document's origin for error messages.
func NewConfigResolver(document map[string]any, source string, registry *BackendRegistry, interp Interpolator) *ConfigResolver {
	return &ConfigResolver{
		source:   source,
		document: document,
		registry: registry,
		interp:   interp,
	}
}

// NewConfigResolverFromFile reads and decodes a YAML configuration document.
func NewConfigResolverFromFile(path string, registry *BackendRegistry, interp Interpolator) (*ConfigResolver, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Source: path, Msg: "unable to read configuration", Err: err}
	}
	var document map[string]any
	if err := sigsyaml.Unmarshal(payload, &document); err != nil {
		return nil, &ConfigError{Source: path, Msg: "unable to parse configuration", Err: err}
	}
	return NewConfigResolver(document, path, registry, interp), nil
}

// SynthesizedConfigResolver builds the resolver used when no configuration
// document exists: a v5 hierarchy with one yaml_data entry reading
// common.yaml under datadir. Entries that resolve to zero actual locations
// are silently skipped in this mode.
func SynthesizedConfigResolver(datadir string, registry *BackendRegistry, interp Interpolator) *ConfigResolver {
	if datadir == "" {
		datadir = defaultDatadir
	}
	resolver := NewConfigResolver(map[string]any{
		"version": 5,
		"defaults": map[string]any{
			"data_hash": "yaml_data",
			"datadir":   datadir,
		},
		"hierarchy": []any{
			map[string]any{"name": "Common", "path": "common.yaml"},
		},
	}, SynthesizedSource, registry, interp)
	resolver.synthesized = true
	return resolver
}

// Resolve returns the current hierarchy generation, rebuilding only when a
// captured scope variable has changed since the last pass.
func (r *ConfigResolver) Resolve(inv *Invocation) (*HierarchyConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached != nil && snapshotStable(r.cached.snapshot, inv.Scope()) {
		return r.cached, nil
	}

	tracking := newTrackingScope(inv.Scope())
	config, err := r.build(inv.withScope(tracking))
	if err != nil {
		return nil, err
	}
	config.snapshot = tracking.snapshot()
	r.cached = config
	return config, nil
}

func (r *ConfigResolver) build(inv *Invocation) (*HierarchyConfig, error) {
	version, err := r.documentVersion()
	if err != nil {
		return nil, err
	}
	if err := validateDocument(r.source, version, r.document); err != nil {
		return nil, err
	}
	switch version {
	case 3:
		return r.buildV3(inv)
	case 4:
		return r.buildV4(inv)
	default:
		return r.buildV5(inv)
	}
}

// documentVersion reads the version field, defaulting to 3 when entirely
// absent. Versions other than 3, 4, and 5 are fatal.
func (r *ConfigResolver) documentVersion() (int, error) {
	raw, present := r.document["version"]
	if !present {
		return 3, nil
	}
	var version int
	switch v := raw.(type) {
	case int:
		version = v
	case int64:
		version = int(v)
	case float64:
		version = int(v)
		if float64(version) != v {
			return 0, configErrorf(r.source, "version %v is not an integer", v)
		}
	default:
		return 0, configErrorf(r.source, "version %v is not an integer", raw)
	}
	if version < 3 || version > 5 {
		return 0, configErrorf(r.source, "unsupported configuration version %d", version)
	}
	return version, nil
}

// interpolator falls back to the default scope engine so a resolver is usable
// without explicit wiring.
func (r *ConfigResolver) interpolator() Interpolator {
	if r.interp != nil {
		return r.interp
	}
	return NewScopeInterpolator()
}

func (r *ConfigResolver) buildV3(inv *Invocation) (*HierarchyConfig, error) {
	backends := stringList(r.document["backends"])
	if len(backends) == 0 {
		backends = []string{"yaml"}
	}
	templates := stringList(r.document["hierarchy"])
	if len(templates) == 0 {
		templates = []string{"common"}
	}

	defaultMerge, err := r.v3MergeBehavior(inv)
	if err != nil {
		return nil, err
	}

	config := &HierarchyConfig{Version: 3, DefaultMerge: defaultMerge}
	seen := map[string]struct{}{}
	for _, backend := range backends {
		if _, dup := seen[backend]; dup {
			return nil, configErrorf(r.source, "backend %q defined more than once", backend)
		}
		seen[backend] = struct{}{}

		datadir := r.v3BackendDatadir(backend)
		switch backend {
		case "yaml", "json":
			function := backend + "_data"
			extension := "." + backend
			declared := make([]string, 0, len(templates))
			for _, template := range templates {
				declared = append(declared, template+extension)
			}
			locations, err := ResolvePaths(datadir, declared, inv, r.interpolator())
			if err != nil {
				return nil, &ConfigError{Source: r.source, Msg: "unable to resolve hierarchy paths", Err: err}
			}
			config.Providers = append(config.Providers, newFunctionProvider(ProviderSpec{
				Name:      backend,
				Kind:      KindDataHash,
				Function:  function,
				Locations: locations,
			}, r.registry, r.interp))
		default:
			// Anything else needs the legacy plugin ecosystem; load and
			// construction failures surface at lookup time as not-found.
			config.Providers = append(config.Providers, newFunctionProvider(ProviderSpec{
				Name:     backend,
				Kind:     KindV3Backend,
				Function: backend,
				Options:  r.v3BackendOptions(backend),
			}, r.registry, r.interp))
		}
	}
	return config, nil
}

// v3MergeBehavior derives the version-level merge strategy from the
// merge_behavior setting. Unrecognized deep-merge options are reported and
// dropped, never fatal.
func (r *ConfigResolver) v3MergeBehavior(inv *Invocation) (*MergeStrategy, error) {
	behavior, present := r.document["merge_behavior"].(string)
	if !present {
		return nil, nil
	}
	var tag string
	switch behavior {
	case "native":
		tag = "first"
	case "array":
		tag = "unique"
	case "deep":
		tag = "reverse_deep"
	case "deeper":
		tag = "deep"
	default:
		return nil, configErrorf(r.source, "unknown merge_behavior %q", behavior)
	}

	spec := map[string]any{"strategy": tag}
	if options, ok := r.document["deep_merge_options"].(map[string]any); ok {
		for key, value := range options {
			switch key {
			case "knockout_prefix", "merge_hash_arrays", "sort_merged_arrays":
				spec[key] = value
			default:
				inv.ReportText(func() string {
					return fmt.Sprintf("ignoring unrecognized deep_merge_options entry %q", key)
				})
			}
		}
	}
	strategy, err := NewMergeStrategy(spec)
	if err != nil {
		return nil, &ConfigError{Source: r.source, Msg: "invalid merge_behavior", Err: err}
	}
	return &strategy, nil
}

// v3BackendDatadir reads the per-backend settings section for a datadir.
func (r *ConfigResolver) v3BackendDatadir(backend string) string {
	if section, ok := r.document[backend].(map[string]any); ok {
		if datadir, ok := section["datadir"].(string); ok && datadir != "" {
			return datadir
		}
	}
	return defaultDatadir
}

func (r *ConfigResolver) v3BackendOptions(backend string) map[string]any {
	if section, ok := r.document[backend].(map[string]any); ok {
		return section
	}
	return nil
}

func (r *ConfigResolver) buildV4(inv *Invocation) (*HierarchyConfig, error) {
	datadir, _ := r.document["datadir"].(string)
	if datadir == "" {
		datadir = defaultDatadir
	}
	entries, _ := r.document["hierarchy"].([]any)

	config := &HierarchyConfig{Version: 4}
	seen := map[string]struct{}{}
	for _, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			return nil, configErrorf(r.source, "hierarchy entries must be maps, got %T", raw)
		}
		backend, _ := entry["backend"].(string)
		name, _ := entry["name"].(string)
		if name == "" {
			name = backend
		}
		if _, dup := seen[name]; dup {
			return nil, configErrorf(r.source, "hierarchy name %q defined more than once", name)
		}
		seen[name] = struct{}{}

		entryDatadir, _ := entry["datadir"].(string)
		if entryDatadir == "" {
			entryDatadir = datadir
		}

		switch backend {
		case "yaml", "json":
			declared := stringList(entry["paths"])
			if path, ok := entry["path"].(string); ok && path != "" {
				declared = append([]string{path}, declared...)
			}
			if len(declared) == 0 {
				declared = []string{name + "." + backend}
			}
			locations, err := ResolvePaths(entryDatadir, declared, inv, r.interpolator())
			if err != nil {
				return nil, &ConfigError{Source: r.source, Msg: "unable to resolve hierarchy paths", Err: err}
			}
			config.Providers = append(config.Providers, newFunctionProvider(ProviderSpec{
				Name:      name,
				Kind:      KindDataHash,
				Function:  backend + "_data",
				Locations: locations,
			}, r.registry, r.interp))
		default:
			factory, ok := r.registry.V4Factory(backend)
			if !ok {
				return nil, configErrorf(r.source, "backend %q was not found in the provider registry", backend)
			}
			declared := stringList(entry["paths"])
			if path, ok := entry["path"].(string); ok && path != "" {
				declared = append([]string{path}, declared...)
			}
			locations, err := ResolvePaths(entryDatadir, declared, inv, r.interpolator())
			if err != nil {
				return nil, &ConfigError{Source: r.source, Msg: "unable to resolve hierarchy paths", Err: err}
			}
			// Versioned factory contract: newer factories receive the parent
			// provider reference, older ones only the entry.
			var provider DataProvider
			switch fn := factory.(type) {
			case V4ProviderFactoryWithParent:
				provider = fn(nil, name, locations)
			case V4ProviderFactory:
				provider = fn(name, locations)
			}
			if provider == nil {
				return nil, configErrorf(r.source, "factory for backend %q produced no provider", backend)
			}
			config.Providers = append(config.Providers, provider)
		}
	}
	return config, nil
}

// v5 function-kind fields in precedence-free declaration order.
var v5FunctionKinds = []struct {
	field string
	kind  FunctionKind
}{
	{"data_hash", KindDataHash},
	{"lookup_key", KindLookupKey},
	{"data_dig", KindDataDig},
	{"v4_data_hash", KindV4DataHash},
}

func (r *ConfigResolver) buildV5(inv *Invocation) (*HierarchyConfig, error) {
	defaults, _ := r.document["defaults"].(map[string]any)
	defaultDatadirValue, _ := defaults["datadir"].(string)
	if defaultDatadirValue == "" {
		defaultDatadirValue = defaultDatadir
	}
	defaultKind, defaultFunction, err := r.v5DefaultFunction(defaults)
	if err != nil {
		return nil, err
	}
	defaultOptions, _ := defaults["options"].(map[string]any)

	entries, _ := r.document["hierarchy"].([]any)
	config := &HierarchyConfig{Version: 5}
	seen := map[string]struct{}{}
	for _, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			return nil, configErrorf(r.source, "hierarchy entries must be maps, got %T", raw)
		}
		name, _ := entry["name"].(string)
		if name == "" {
			return nil, configErrorf(r.source, "hierarchy entries must have a name")
		}
		if _, dup := seen[name]; dup {
			return nil, configErrorf(r.source, "hierarchy name %q defined more than once", name)
		}
		seen[name] = struct{}{}

		kind, function, err := r.v5EntryFunction(name, entry, defaultKind, defaultFunction)
		if err != nil {
			return nil, err
		}

		datadir, _ := entry["datadir"].(string)
		if datadir == "" {
			datadir = defaultDatadirValue
		}

		locations, declared, err := r.v5EntryLocations(name, entry, datadir, inv)
		if err != nil {
			return nil, err
		}
		if r.synthesized && declared && len(locations) == 0 {
			// A synthesized hierarchy only exists to surface data that is
			// actually present; entries with nothing to read are skipped.
			continue
		}

		options, _ := entry["options"].(map[string]any)
		if options == nil {
			options = defaultOptions
		}

		config.Providers = append(config.Providers, newFunctionProvider(ProviderSpec{
			Name:      name,
			Kind:      kind,
			Function:  function,
			Options:   options,
			Locations: locations,
		}, r.registry, r.interp))
	}
	return config, nil
}

func (r *ConfigResolver) v5DefaultFunction(defaults map[string]any) (FunctionKind, string, error) {
	var (
		kind     FunctionKind
		function string
		count    int
	)
	for _, candidate := range v5FunctionKinds {
		if candidate.field == "v4_data_hash" {
			continue
		}
		if value, ok := defaults[candidate.field].(string); ok && value != "" {
			kind = candidate.kind
			function = value
			count++
		}
	}
	if count > 1 {
		return "", "", configErrorf(r.source, "defaults must declare at most one of data_hash, lookup_key, data_dig")
	}
	return kind, function, nil
}

func (r *ConfigResolver) v5EntryFunction(name string, entry map[string]any, defaultKind FunctionKind, defaultFunction string) (FunctionKind, string, error) {
	var (
		kind     FunctionKind
		function string
		count    int
	)
	for _, candidate := range v5FunctionKinds {
		if value, ok := entry[candidate.field].(string); ok && value != "" {
			kind = candidate.kind
			function = value
			count++
		}
	}
	if count > 1 {
		return "", "", configErrorf(r.source, "hierarchy entry %q must declare only one of data_hash, lookup_key, data_dig, v4_data_hash", name)
	}
	if count == 0 {
		if defaultFunction == "" {
			return "", "", configErrorf(r.source, "hierarchy entry %q must declare one of data_hash, lookup_key, data_dig, or inherit one from defaults", name)
		}
		return defaultKind, defaultFunction, nil
	}
	return kind, function, nil
}

// v5EntryLocations expands the entry's single location kind. declared
// reports whether the entry named any location at all, so synthesized
// configurations can tell "inline lookup" apart from "nothing matched".
func (r *ConfigResolver) v5EntryLocations(name string, entry map[string]any, datadir string, inv *Invocation) (locations []Location, declared bool, err error) {
	type locationDecl struct {
		kind     string
		declared []string
	}
	var decls []locationDecl
	appendDecl := func(kind, singular, plural string) {
		var found []string
		if value, ok := entry[singular].(string); ok && value != "" {
			found = append(found, value)
		}
		found = append(found, stringList(entry[plural])...)
		if len(found) > 0 {
			decls = append(decls, locationDecl{kind: kind, declared: found})
		}
	}
	appendDecl("path", "path", "paths")
	appendDecl("glob", "glob", "globs")
	appendDecl("uri", "uri", "uris")

	if len(decls) == 0 {
		return nil, false, nil
	}
	if len(decls) > 1 {
		return nil, true, configErrorf(r.source, "hierarchy entry %q must declare only one of path, paths, glob, globs, uri, uris", name)
	}

	decl := decls[0]
	switch decl.kind {
	case "path":
		locations, err = ResolvePaths(datadir, decl.declared, inv, r.interpolator())
		if err == nil && r.synthesized {
			locations = existingLocations(locations)
		}
	case "glob":
		locations, err = ExpandGlobs(datadir, decl.declared, inv, r.interpolator())
	default:
		locations, err = ExpandURIs(decl.declared, inv, r.interpolator())
	}
	if err != nil {
		return nil, true, &ConfigError{Source: r.source, Msg: fmt.Sprintf("unable to resolve locations for hierarchy entry %q", name), Err: err}
	}
	return locations, true, nil
}

func existingLocations(locations []Location) []Location {
	out := locations[:0]
	for _, location := range locations {
		if location.exists() {
			out = append(out, location)
		}
	}
	return out
}

// stringList accepts a bare string or a list of strings.
func stringList(value any) []string {
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, element := range v {
			if s, ok := element.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}
