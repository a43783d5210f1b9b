package lookup

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderContext carries what a backend function needs for one call: the
// invocation, the location being read (nil for inline lookups), and the
// interpolator for expanding values.
type ProviderContext struct {
	Invocation   *Invocation
	Location     *Location
	Interpolator Interpolator
}

// DataHashFunc returns the entire mapping stored at a location. The engine
// caches the mapping per location and serves root-key lookups from the cache.
type DataHashFunc func(pctx *ProviderContext, options map[string]any) (map[string]any, error)

// LookupKeyFunc answers a single root key and may itself signal ErrNotFound.
type LookupKeyFunc func(key string, pctx *ProviderContext, options map[string]any) (any, error)

// DataDigFunc is the dig-capable variant of LookupKeyFunc declared with the
// data_dig function kind.
type DataDigFunc func(key string, pctx *ProviderContext, options map[string]any) (any, error)

// V3Backend is the calling convention of an externally loaded legacy backend.
// Its resolution-type vocabulary differs from the merge-strategy model; see
// MergeStrategy.LegacyResolutionType.
type V3Backend interface {
	LookupKey(key string, scope Scope, resolutionType any) (any, error)
}

// V3BackendFactory constructs a legacy backend. Construction failures are
// reported as diagnostics and treated as not-found, never as fatal errors.
type V3BackendFactory func(options map[string]any) (V3Backend, error)

// V4ProviderFactory builds a data provider for one v4 hierarchy entry.
type V4ProviderFactory func(name string, locations []Location) DataProvider

// V4ProviderFactoryWithParent is the newer factory contract that also
// receives the parent provider reference.
type V4ProviderFactoryWithParent func(parent DataProvider, name string, locations []Location) DataProvider

// BackendRegistry stores backend implementations keyed by function name. It
// is the injection point the configuration resolver uses to turn provider
// specifications into callable providers.
type BackendRegistry struct {
	mu          sync.RWMutex
	dataHash    map[string]DataHashFunc
	lookupKey   map[string]LookupKeyFunc
	dataDig     map[string]DataDigFunc
	v3Backends  map[string]V3BackendFactory
	v4Factories map[string]any
}

// NewBackendRegistry constructs an empty registry.
func NewBackendRegistry() *BackendRegistry {
	return &BackendRegistry{
		dataHash:    make(map[string]DataHashFunc),
		lookupKey:   make(map[string]LookupKeyFunc),
		dataDig:     make(map[string]DataDigFunc),
		v3Backends:  make(map[string]V3BackendFactory),
		v4Factories: make(map[string]any),
	}
}

// DefaultBackendRegistry returns a registry preloaded with the built-in
// yaml_data and json_data hash backends.
func DefaultBackendRegistry() *BackendRegistry {
	registry := NewBackendRegistry()
	_ = registry.RegisterDataHash("yaml_data", YAMLDataHash)
	_ = registry.RegisterDataHash("json_data", JSONDataHash)
	return registry
}

func registryKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func registerNamed[F any](registry *BackendRegistry, table map[string]F, kind, name string, fn F) error {
	if name == "" {
		return fmt.Errorf("lookup: %s function name must not be empty", kind)
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	key := registryKey(name)
	if _, exists := table[key]; exists {
		return fmt.Errorf("lookup: %s function %q already registered", kind, name)
	}
	table[key] = fn
	return nil
}

// RegisterDataHash stores fn as a hash-returning backend, guarding against
// duplicates.
func (r *BackendRegistry) RegisterDataHash(name string, fn DataHashFunc) error {
	if fn == nil {
		return fmt.Errorf("lookup: data_hash function %q is nil", name)
	}
	return registerNamed(r, r.dataHash, "data_hash", name, fn)
}

// RegisterLookupKey stores fn as a dig-capable backend.
func (r *BackendRegistry) RegisterLookupKey(name string, fn LookupKeyFunc) error {
	if fn == nil {
		return fmt.Errorf("lookup: lookup_key function %q is nil", name)
	}
	return registerNamed(r, r.lookupKey, "lookup_key", name, fn)
}

// RegisterDataDig stores fn as a dig-capable backend declared via data_dig.
func (r *BackendRegistry) RegisterDataDig(name string, fn DataDigFunc) error {
	if fn == nil {
		return fmt.Errorf("lookup: data_dig function %q is nil", name)
	}
	return registerNamed(r, r.dataDig, "data_dig", name, fn)
}

// RegisterV3Backend stores a legacy backend factory under its v3 backend
// name.
func (r *BackendRegistry) RegisterV3Backend(name string, factory V3BackendFactory) error {
	if factory == nil {
		return fmt.Errorf("lookup: v3 backend factory %q is nil", name)
	}
	return registerNamed(r, r.v3Backends, "v3 backend", name, factory)
}

// RegisterV4Factory stores a v4 provider factory. Both the plain and the
// parent-aware factory contracts are accepted.
func (r *BackendRegistry) RegisterV4Factory(name string, factory any) error {
	switch factory.(type) {
	case V4ProviderFactory, V4ProviderFactoryWithParent:
	default:
		return fmt.Errorf("lookup: v4 factory %q has unsupported type %T", name, factory)
	}
	return registerNamed(r, r.v4Factories, "v4 provider", name, factory)
}

// DataHash returns the hash-returning backend registered under name.
func (r *BackendRegistry) DataHash(name string) (DataHashFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.dataHash[registryKey(name)]
	return fn, ok
}

// LookupKey returns the dig-capable backend registered under name.
func (r *BackendRegistry) LookupKey(name string) (LookupKeyFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.lookupKey[registryKey(name)]
	return fn, ok
}

// DataDig returns the data_dig backend registered under name.
func (r *BackendRegistry) DataDig(name string) (DataDigFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.dataDig[registryKey(name)]
	return fn, ok
}

// V3Backend returns the legacy backend factory registered under name.
func (r *BackendRegistry) V3Backend(name string) (V3BackendFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.v3Backends[registryKey(name)]
	return factory, ok
}

// V4Factory returns the v4 provider factory registered under name.
func (r *BackendRegistry) V4Factory(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.v4Factories[registryKey(name)]
	return factory, ok
}

// Names returns every registered function name sorted alphabetically, for
// diagnostics.
func (r *BackendRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]struct{}{}
	for name := range r.dataHash {
		seen[name] = struct{}{}
	}
	for name := range r.lookupKey {
		seen[name] = struct{}{}
	}
	for name := range r.dataDig {
		seen[name] = struct{}{}
	}
	for name := range r.v3Backends {
		seen[name] = struct{}{}
	}
	for name := range r.v4Factories {
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
