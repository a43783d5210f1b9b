package lookup

import (
	"errors"
	"fmt"
	"sync"
)

// FunctionKind is the calling convention a backend function follows.
type FunctionKind string

const (
	// KindDataHash backends return the entire mapping for a location.
	KindDataHash FunctionKind = "data_hash"
	// KindLookupKey backends are handed the root key and may signal
	// not-found themselves.
	KindLookupKey FunctionKind = "lookup_key"
	// KindDataDig backends are the dig-capable variant declared via the
	// data_dig configuration field.
	KindDataDig FunctionKind = "data_dig"
	// KindV3Backend adapts an externally loaded legacy backend.
	KindV3Backend FunctionKind = "v3_backend"
	// KindV4DataHash is the deprecated single-function shim that synthesizes
	// a one-entry hierarchy around a legacy hash function.
	KindV4DataHash FunctionKind = "v4_data_hash"
)

// ProviderSpec describes one configured provider: its hierarchy entry name,
// function kind and name, backend options, and the ordered location list (nil
// for inline lookups). Immutable per resolution generation.
type ProviderSpec struct {
	Name      string
	Kind      FunctionKind
	Function  string
	Options   map[string]any
	Locations []Location
}

// DataProvider answers key lookups for one tier or hierarchy entry. Every
// provider must treat ErrNotFound as an expected outcome, never as failure.
type DataProvider interface {
	Name() string
	KeyLookup(key *Key, inv *Invocation, merge MergeStrategy) (any, error)
}

// digResult is one memoized (location, root key) outcome. Not-found outcomes
// are memoized too, so a miss costs one backend call per session.
type digResult struct {
	value any
	found bool
}

// functionProvider drives one backend function across the spec's locations,
// caching per the function kind's contract.
type functionProvider struct {
	spec     ProviderSpec
	registry *BackendRegistry
	interp   Interpolator

	mu        sync.Mutex
	hashCache map[string]map[string]any
	digCache  map[string]digResult

	v3Once    sync.Once
	v3Backend V3Backend
	v3Err     error
}

func newFunctionProvider(spec ProviderSpec, registry *BackendRegistry, interp Interpolator) *functionProvider {
	return &functionProvider{
		spec:      spec,
		registry:  registry,
		interp:    interp,
		hashCache: make(map[string]map[string]any),
		digCache:  make(map[string]digResult),
	}
}

// Name returns the hierarchy entry name.
func (p *functionProvider) Name() string { return p.spec.Name }

// KeyLookup iterates candidate locations in order under the merge strategy.
// A nil location means "no location, call the function directly".
func (p *functionProvider) KeyLookup(key *Key, inv *Invocation, merge MergeStrategy) (any, error) {
	locations := make([]*Location, 0, len(p.spec.Locations))
	for i := range p.spec.Locations {
		locations = append(locations, &p.spec.Locations[i])
	}
	if len(locations) == 0 {
		locations = append(locations, nil)
	}
	return mergeSources(merge, inv, locations, func(location *Location) (any, error) {
		return p.lookupIn(location, key, inv, merge)
	})
}

func (p *functionProvider) lookupIn(location *Location, key *Key, inv *Invocation, merge MergeStrategy) (any, error) {
	if location != nil && !location.exists() {
		inv.ReportLocationNotFound(p.spec.Name, location.Resolved)
		return nil, notFound(key.RootKey())
	}
	switch p.spec.Kind {
	case KindDataHash:
		return p.hashLookup(location, key, inv)
	case KindV4DataHash:
		deprecationWarning(inv, "v4_data_hash:"+p.spec.Function,
			fmt.Sprintf("the experimental v4_data_hash function %q should be converted to data_hash", p.spec.Function))
		return p.hashLookup(location, key, inv)
	case KindLookupKey, KindDataDig:
		return p.digLookup(location, key, inv)
	case KindV3Backend:
		return p.legacyLookup(key, inv, merge)
	default:
		return nil, configErrorf("", "provider %q has unknown function kind %q", p.spec.Name, p.spec.Kind)
	}
}

// hashLookup loads and caches the full mapping for a location, then serves
// root-key lookups from the cache.
func (p *functionProvider) hashLookup(location *Location, key *Key, inv *Invocation) (any, error) {
	cacheKey := locationCacheKey(location)
	p.mu.Lock()
	hash, cached := p.hashCache[cacheKey]
	p.mu.Unlock()
	if !cached {
		fn, ok := p.registry.DataHash(p.spec.Function)
		if !ok {
			inv.ReportText(func() string {
				return fmt.Sprintf("data_hash function %q for provider %q is not registered", p.spec.Function, p.spec.Name)
			})
			return nil, notFound(key.RootKey())
		}
		loaded, err := fn(&ProviderContext{Invocation: inv, Location: location, Interpolator: p.interp}, p.spec.Options)
		if err != nil {
			return nil, err
		}
		if loaded == nil {
			loaded = map[string]any{}
		}
		p.mu.Lock()
		p.hashCache[cacheKey] = loaded
		p.mu.Unlock()
		hash = loaded
	}
	value, ok := hash[key.RootKey()]
	if !ok {
		return nil, notFound(key.RootKey())
	}
	return interpolateValue(value, inv, p.interp)
}

// digLookup memoizes per (location, root key), including not-found outcomes.
func (p *functionProvider) digLookup(location *Location, key *Key, inv *Invocation) (any, error) {
	cacheKey := locationCacheKey(location) + "\x00" + key.RootKey()
	p.mu.Lock()
	entry, cached := p.digCache[cacheKey]
	p.mu.Unlock()
	if cached {
		if !entry.found {
			return nil, notFound(key.RootKey())
		}
		return entry.value, nil
	}

	value, err := p.callDig(location, key, inv)
	if err != nil {
		if isNotFound(err) {
			p.mu.Lock()
			p.digCache[cacheKey] = digResult{}
			p.mu.Unlock()
		}
		return nil, err
	}
	value, err = interpolateValue(value, inv, p.interp)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.digCache[cacheKey] = digResult{value: value, found: true}
	p.mu.Unlock()
	return value, nil
}

func (p *functionProvider) callDig(location *Location, key *Key, inv *Invocation) (any, error) {
	pctx := &ProviderContext{Invocation: inv, Location: location, Interpolator: p.interp}
	switch p.spec.Kind {
	case KindDataDig:
		fn, ok := p.registry.DataDig(p.spec.Function)
		if !ok {
			inv.ReportText(func() string {
				return fmt.Sprintf("data_dig function %q for provider %q is not registered", p.spec.Function, p.spec.Name)
			})
			return nil, notFound(key.RootKey())
		}
		return fn(key.RootKey(), pctx, p.spec.Options)
	default:
		fn, ok := p.registry.LookupKey(p.spec.Function)
		if !ok {
			inv.ReportText(func() string {
				return fmt.Sprintf("lookup_key function %q for provider %q is not registered", p.spec.Function, p.spec.Name)
			})
			return nil, notFound(key.RootKey())
		}
		return fn(key.RootKey(), pctx, p.spec.Options)
	}
}

// legacyLookup adapts a v3 backend. A missing factory or a construction
// failure is a diagnostic plus not-found, never fatal.
func (p *functionProvider) legacyLookup(key *Key, inv *Invocation, merge MergeStrategy) (any, error) {
	p.v3Once.Do(func() {
		factory, ok := p.registry.V3Backend(p.spec.Function)
		if !ok {
			p.v3Err = fmt.Errorf("v3 backend %q is not registered", p.spec.Function)
			return
		}
		p.v3Backend, p.v3Err = factory(p.spec.Options)
	})
	if p.v3Err != nil {
		inv.ReportText(func() string {
			return fmt.Sprintf("unable to load v3 backend %q: %v", p.spec.Function, p.v3Err)
		})
		return nil, notFound(key.RootKey())
	}
	return p.v3Backend.LookupKey(key.RootKey(), inv.Scope(), merge.LegacyResolutionType())
}

func locationCacheKey(location *Location) string {
	if location == nil {
		return ""
	}
	return location.Resolved
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
