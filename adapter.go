package lookup

import (
	"errors"
	"fmt"
)

// LegacyBindingFunc is the legacy data-binding terminus consulted for the
// global tier when configured. Failures other than ErrNotFound are re-raised
// as LookupFailedError with the original cause preserved.
type LegacyBindingFunc func(key string, inv *Invocation) (any, error)

// moduleEntry is the configured source material for one module tier: its own
// hierarchy document and/or a metadata-declared legacy provider name.
type moduleEntry struct {
	resolver       *ConfigResolver
	legacyProvider string
}

// providerCacheEntry distinguishes "not yet resolved" from "resolved to
// absent": a resolved entry with a nil provider is itself a cached,
// meaningful result.
type providerCacheEntry struct {
	resolved bool
	provider DataProvider
}

// LookupAdapter orchestrates one compilation/session's lookups: it owns the
// provider singletons, the per-module lookup-options cache, and the fixed
// global → environment → module tier stack. One adapter belongs to exactly
// one session and is used from a single goroutine; independent sessions use
// independent adapters.
type LookupAdapter struct {
	registry *BackendRegistry
	interp   Interpolator

	globalResolver *ConfigResolver
	envResolver    *ConfigResolver
	modules        map[string]*moduleEntry
	globalDisabled bool
	legacyBinding  LegacyBindingFunc

	global          providerCacheEntry
	environment     providerCacheEntry
	moduleProviders map[string]providerCacheEntry

	// lookupOptions caches the merged options per module name ("" is the
	// top-level entry); a present nil value means "resolved, nothing there".
	lookupOptions    map[string]map[string]any
	globalEnvOptions map[string]any
	globalEnvDone    bool
}

// AdapterOption configures a LookupAdapter.
type AdapterOption func(*LookupAdapter)

// WithBackendRegistry injects the backend registry used to resolve function
// names and factories.
func WithBackendRegistry(registry *BackendRegistry) AdapterOption {
	return func(a *LookupAdapter) {
		if registry != nil {
			a.registry = registry
		}
	}
}

// WithInterpolator selects the %{...} expansion engine.
func WithInterpolator(interp Interpolator) AdapterOption {
	return func(a *LookupAdapter) {
		if interp != nil {
			a.interp = interp
		}
	}
}

// WithGlobalConfig wires the Hiera-style global tier configuration.
func WithGlobalConfig(resolver *ConfigResolver) AdapterOption {
	return func(a *LookupAdapter) {
		a.globalResolver = resolver
	}
}

// WithEnvironmentConfig wires the environment tier configuration.
func WithEnvironmentConfig(resolver *ConfigResolver) AdapterOption {
	return func(a *LookupAdapter) {
		a.envResolver = resolver
	}
}

// WithModuleConfig wires a module's own hierarchy configuration. A version 5
// document always overrides a legacy provider declared for the same module.
func WithModuleConfig(name string, resolver *ConfigResolver) AdapterOption {
	return func(a *LookupAdapter) {
		a.module(name).resolver = resolver
	}
}

// WithModuleLegacyProvider records a module's metadata-declared provider
// name, resolved through the v4 factory registry.
func WithModuleLegacyProvider(name, providerName string) AdapterOption {
	return func(a *LookupAdapter) {
		a.module(name).legacyProvider = providerName
	}
}

// WithGlobalLookupDisabled administratively disables the global tier.
func WithGlobalLookupDisabled() AdapterOption {
	return func(a *LookupAdapter) {
		a.globalDisabled = true
	}
}

// WithLegacyDataBinding wires the legacy data-binding terminus for the global
// tier.
func WithLegacyDataBinding(fn LegacyBindingFunc) AdapterOption {
	return func(a *LookupAdapter) {
		a.legacyBinding = fn
	}
}

// NewLookupAdapter constructs the per-session orchestrator.
func NewLookupAdapter(opts ...AdapterOption) *LookupAdapter {
	adapter := &LookupAdapter{
		registry:        DefaultBackendRegistry(),
		interp:          NewScopeInterpolator(),
		modules:         map[string]*moduleEntry{},
		moduleProviders: map[string]providerCacheEntry{},
		lookupOptions:   map[string]map[string]any{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(adapter)
		}
	}
	return adapter
}

func (a *LookupAdapter) module(name string) *moduleEntry {
	entry, ok := a.modules[name]
	if !ok {
		entry = &moduleEntry{}
		a.modules[name] = entry
	}
	return entry
}

// Lookup resolves key through the three-tier stack, combining per the
// explicit merge (nil, a tag string, or an options map) or the key's cached
// lookup options. It fails with ErrNotFound when no tier produced a value.
func (a *LookupAdapter) Lookup(key string, inv *Invocation, explicitMerge any) (any, error) {
	parsed, err := ParseKey(key)
	if err != nil {
		return nil, err
	}
	if err := inv.push(parsed); err != nil {
		return nil, err
	}
	defer inv.pop()

	if inv.explainOptions {
		options := a.lookupOptionsFor(parsed.ModuleName(), inv)
		if options == nil {
			inv.ReportNotFound(ReservedKey)
			return nil, notFound(ReservedKey)
		}
		inv.ReportFound(ReservedKey, options)
		return options, nil
	}

	strategy, err := a.effectiveMerge(parsed, inv, explicitMerge)
	if err != nil {
		return nil, err
	}

	value, err := a.searchTiers(parsed, inv, strategy)
	if err != nil {
		if !isNotFound(err) {
			return nil, err
		}
		fallback, ok := inv.defaults[parsed.RootKey()]
		if !ok {
			inv.ReportNotFound(parsed.String())
			return nil, err
		}
		value = fallback
	}

	value, err = parsed.Navigate(inv, value)
	if err != nil {
		inv.ReportNotFound(parsed.String())
		return nil, err
	}
	inv.ReportFound(parsed.String(), value)
	return value, nil
}

// effectiveMerge resolves the strategy for this lookup: the caller's explicit
// merge wins; otherwise the key's cached lookup options decide; otherwise
// first-found.
func (a *LookupAdapter) effectiveMerge(key *Key, inv *Invocation, explicitMerge any) (MergeStrategy, error) {
	if explicitMerge != nil {
		return NewMergeStrategy(explicitMerge)
	}
	options := a.lookupOptionsFor(key.ModuleName(), inv)
	entry, ok := options[key.RootKey()].(map[string]any)
	if !ok {
		return DefaultMergeStrategy(), nil
	}
	mergeSpec, ok := entry["merge"]
	if !ok {
		return DefaultMergeStrategy(), nil
	}
	strategy, err := NewMergeStrategy(mergeSpec)
	if err != nil {
		return MergeStrategy{}, err
	}
	inv.ReportText(func() string {
		return fmt.Sprintf("using merge options from %q entry for %q", ReservedKey, key.String())
	})
	return strategy, nil
}

// tierSource is one step of the fixed global → environment → module stack.
type tierSource struct {
	name    string
	attempt func(*Key, *Invocation, MergeStrategy) (any, error)
}

func (a *LookupAdapter) searchTiers(key *Key, inv *Invocation, strategy MergeStrategy) (any, error) {
	if value, ok := inv.override[key.RootKey()]; ok {
		inv.ReportText(func() string {
			return fmt.Sprintf("found %q in override values", key.RootKey())
		})
		return value, nil
	}

	tiers := []tierSource{
		{name: "global", attempt: a.globalLookup},
		{name: "environment", attempt: a.environmentLookup},
		{name: "module", attempt: a.moduleLookup},
	}
	return mergeSources(strategy, inv, tiers, func(tier tierSource) (any, error) {
		return tier.attempt(key, inv, strategy)
	})
}

// globalLookup resolves the global tier: the administrative disable switch
// first, then the legacy data-binding terminus, then the Hiera-style global
// provider.
func (a *LookupAdapter) globalLookup(key *Key, inv *Invocation, strategy MergeStrategy) (any, error) {
	if a.globalDisabled {
		inv.ReportText(func() string { return "global lookup is disabled" })
		return nil, notFound(key.RootKey())
	}
	if a.legacyBinding != nil {
		value, err := a.legacyBinding(key.RootKey(), inv)
		if err != nil {
			if isNotFound(err) {
				return nil, err
			}
			return nil, &LookupFailedError{Key: key.RootKey(), Err: err}
		}
		return value, nil
	}
	provider := a.globalProvider(inv)
	if provider == nil {
		return nil, notFound(key.RootKey())
	}
	return provider.KeyLookup(key, inv, strategy)
}

func (a *LookupAdapter) environmentLookup(key *Key, inv *Invocation, strategy MergeStrategy) (any, error) {
	provider := a.environmentProvider(inv)
	if provider == nil {
		return nil, notFound(key.RootKey())
	}
	return provider.KeyLookup(key, inv, strategy)
}

// moduleLookup only participates when the key carries a module qualifier.
func (a *LookupAdapter) moduleLookup(key *Key, inv *Invocation, strategy MergeStrategy) (any, error) {
	if key.ModuleName() == "" {
		return nil, notFound(key.RootKey())
	}
	provider := a.moduleProvider(key.ModuleName(), inv)
	if provider == nil {
		return nil, notFound(key.RootKey())
	}
	return provider.KeyLookup(key, inv, strategy)
}

func (a *LookupAdapter) globalProvider(inv *Invocation) DataProvider {
	if !a.global.resolved {
		a.global.resolved = true
		if a.globalResolver != nil {
			a.global.provider = &hierarchyProvider{name: "global", resolver: a.globalResolver}
		}
	}
	return a.global.provider
}

func (a *LookupAdapter) environmentProvider(inv *Invocation) DataProvider {
	if !a.environment.resolved {
		a.environment.resolved = true
		if a.envResolver != nil {
			a.environment.provider = &hierarchyProvider{name: "environment", resolver: a.envResolver}
		}
	}
	return a.environment.provider
}

// moduleProvider computes a module's provider at most once per adapter
// lifetime, caching absence as a result of its own.
func (a *LookupAdapter) moduleProvider(name string, inv *Invocation) DataProvider {
	if entry, ok := a.moduleProviders[name]; ok {
		return entry.provider
	}

	var provider DataProvider
	if configured, ok := a.modules[name]; ok {
		switch {
		case configured.resolver != nil:
			if configured.legacyProvider != "" {
				deprecationWarning(inv, "module-config-override:"+name,
					fmt.Sprintf("module %q declares both a hierarchy configuration and legacy provider %q; the configuration takes precedence", name, configured.legacyProvider))
			}
			provider = &hierarchyProvider{name: "module " + name, resolver: configured.resolver}
		case configured.legacyProvider != "":
			provider = a.legacyModuleProvider(name, configured.legacyProvider, inv)
		}
	}
	a.moduleProviders[name] = providerCacheEntry{resolved: true, provider: provider}
	return provider
}

// legacyModuleProvider resolves a metadata-declared provider name through
// the factory registry. An unregistered name is a diagnostic and cached
// absence, not a fatal error.
func (a *LookupAdapter) legacyModuleProvider(module, providerName string, inv *Invocation) DataProvider {
	factory, ok := a.registry.V4Factory(providerName)
	if !ok {
		inv.ReportText(func() string {
			return fmt.Sprintf("module %q declares data provider %q which is not registered", module, providerName)
		})
		return nil
	}
	switch fn := factory.(type) {
	case V4ProviderFactoryWithParent:
		return fn(nil, providerName, nil)
	case V4ProviderFactory:
		return fn(providerName, nil)
	default:
		return nil
	}
}

// lookupOptionsFor returns the merged lookup options for a module name (""
// for top-level keys), computing them at most once per adapter.
func (a *LookupAdapter) lookupOptionsFor(module string, inv *Invocation) map[string]any {
	if cached, ok := a.lookupOptions[module]; ok {
		return cached
	}

	helper := inv.forLookupOptions()
	globalEnv := a.globalEnvLookupOptions(helper)

	var moduleSide map[string]any
	if module != "" {
		moduleSide = a.moduleLookupOptions(module, helper)
	}

	var merged map[string]any
	switch {
	case globalEnv == nil:
		merged = moduleSide
		if moduleSide != nil {
			helper.ReportMergeSource(ReservedKey, "Module "+module)
		}
	case moduleSide == nil:
		merged = globalEnv
		helper.ReportMergeSource(ReservedKey, "Global and Environment")
	default:
		// Both sides exist; precedence falls out of a hash merge over the
		// two pseudo-sources, leftmost winning per key.
		helper.ReportMergeSource(ReservedKey, "Global and Environment")
		combined, err := mergeSources(MergeStrategy{kind: MergeHash}, helper,
			[]map[string]any{globalEnv, moduleSide},
			func(side map[string]any) (any, error) { return side, nil })
		if err == nil {
			merged, _ = combined.(map[string]any)
		}
	}

	a.lookupOptions[module] = merged
	return merged
}

// globalEnvLookupOptions merges the global-tier and environment-tier
// lookup_options data once per adapter.
func (a *LookupAdapter) globalEnvLookupOptions(helper *Invocation) map[string]any {
	if a.globalEnvDone {
		return a.globalEnvOptions
	}
	a.globalEnvDone = true

	key := reservedLookupKey("")
	strategy := MergeStrategy{kind: MergeHash}
	var providers []DataProvider
	if !a.globalDisabled && a.legacyBinding == nil {
		if provider := a.globalProvider(helper); provider != nil {
			providers = append(providers, provider)
		}
	}
	if provider := a.environmentProvider(helper); provider != nil {
		providers = append(providers, provider)
	}
	value, err := mergeSources(strategy, helper, providers, func(provider DataProvider) (any, error) {
		return provider.KeyLookup(key, helper, strategy)
	})
	if err == nil {
		a.globalEnvOptions = normalizeLookupOptions(value, helper)
	}
	return a.globalEnvOptions
}

func (a *LookupAdapter) moduleLookupOptions(module string, helper *Invocation) map[string]any {
	provider := a.moduleProvider(module, helper)
	if provider == nil {
		return nil
	}
	strategy := MergeStrategy{kind: MergeHash}
	value, err := provider.KeyLookup(reservedLookupKey(module), helper, strategy)
	if err != nil {
		return nil
	}
	return normalizeLookupOptions(value, helper)
}

// normalizeLookupOptions keeps only well-formed entries: the data must be a
// mapping of key → option map. Malformed entries are reported and dropped.
func normalizeLookupOptions(value any, inv *Invocation) map[string]any {
	options, ok := value.(map[string]any)
	if !ok {
		if value != nil {
			inv.ReportText(func() string {
				return fmt.Sprintf("%s data must be a hash, got %T", ReservedKey, value)
			})
		}
		return nil
	}
	out := make(map[string]any, len(options))
	for key, entry := range options {
		if _, ok := entry.(map[string]any); !ok {
			inv.ReportText(func() string {
				return fmt.Sprintf("ignoring %s entry for %q: value must be a hash", ReservedKey, key)
			})
			continue
		}
		out[key] = entry
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// hierarchyProvider answers lookups for one tier by driving the tier's
// resolved provider list through the merge strategy. A v3 document's
// merge_behavior governs the tier when the caller passed no combining
// strategy.
type hierarchyProvider struct {
	name     string
	resolver *ConfigResolver
}

// Name implements DataProvider.
func (p *hierarchyProvider) Name() string { return p.name }

// KeyLookup implements DataProvider.
func (p *hierarchyProvider) KeyLookup(key *Key, inv *Invocation, merge MergeStrategy) (any, error) {
	config, err := p.resolver.Resolve(inv)
	if err != nil {
		return nil, err
	}
	strategy := merge
	if config.DefaultMerge != nil && merge.IsFirst() {
		strategy = *config.DefaultMerge
	}
	value, err := mergeSources(strategy, inv, config.Providers, func(provider DataProvider) (any, error) {
		return provider.KeyLookup(key, inv, strategy)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound(key.RootKey())
		}
		return nil, err
	}
	return value, nil
}
