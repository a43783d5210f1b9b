package lookup

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/goliatone/go-lookup/pkg/explain"
)

// recordingHook buckets diagnostic events by kind for assertions.
type recordingHook struct {
	events            []explain.Event
	texts             []string
	deprecations      []string
	locationsNotFound []string
	mergeSources      []string
}

func (h *recordingHook) Notify(_ context.Context, event explain.Event) error {
	h.events = append(h.events, event)
	switch event.Kind {
	case explain.KindText:
		h.texts = append(h.texts, event.Text)
	case explain.KindDeprecation:
		h.deprecations = append(h.deprecations, event.Text)
	case explain.KindLocationNotFound:
		h.locationsNotFound = append(h.locationsNotFound, event.Location)
	case explain.KindMergeSource:
		h.mergeSources = append(h.mergeSources, event.Text)
	}
	return nil
}

// yamlResolver builds a v5 resolver over YAML files written under a temp
// datadir. files maps relative path to content; entries list the hierarchy in
// order.
func yamlResolver(t *testing.T, files map[string]string, entries ...map[string]any) *ConfigResolver {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		writeFile(t, filepath.Join(dir, name), content)
	}
	hierarchy := make([]any, 0, len(entries))
	for _, entry := range entries {
		hierarchy = append(hierarchy, entry)
	}
	return NewConfigResolver(map[string]any{
		"version": 5,
		"defaults": map[string]any{
			"data_hash": "yaml_data",
			"datadir":   dir,
		},
		"hierarchy": hierarchy,
	}, "test.yaml", DefaultBackendRegistry(), NewScopeInterpolator())
}

func TestLookupFromEnvironmentTier(t *testing.T) {
	resolver := yamlResolver(t,
		map[string]string{
			"node.yaml":   "port: 8080\n",
			"common.yaml": "port: 80\nname: common\n",
		},
		map[string]any{"name": "Node", "path": "node.yaml"},
		map[string]any{"name": "Common", "path": "common.yaml"},
	)
	adapter := NewLookupAdapter(WithEnvironmentConfig(resolver))
	inv := NewInvocation(MapScope{})

	value, err := adapter.Lookup("port", inv, nil)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if value != float64(8080) {
		t.Fatalf("first hierarchy level must win, got %#v", value)
	}

	value, err = adapter.Lookup("name", inv, nil)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if value != "common" {
		t.Fatalf("later levels must fill gaps, got %#v", value)
	}

	if _, err := adapter.Lookup("absent", inv, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestLookupRejectsReservedKey(t *testing.T) {
	adapter := NewLookupAdapter()
	inv := NewInvocation(MapScope{})
	if _, err := adapter.Lookup("lookup_options", inv, nil); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("reserved key must be invalid, got %v", err)
	}
	if _, err := adapter.Lookup("lookup_options.users", inv, nil); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("reserved subkey must be invalid, got %v", err)
	}
}

func TestLookupSubkeyNavigation(t *testing.T) {
	resolver := yamlResolver(t,
		map[string]string{"common.yaml": "server:\n  hosts:\n    - alpha\n    - beta\n"},
		map[string]any{"name": "Common", "path": "common.yaml"},
	)
	adapter := NewLookupAdapter(WithEnvironmentConfig(resolver))
	inv := NewInvocation(MapScope{})

	value, err := adapter.Lookup("server.hosts.1", inv, nil)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if value != "beta" {
		t.Fatalf("want %q, got %#v", "beta", value)
	}

	// A missing subkey fails the whole lookup even though the root key exists.
	if _, err := adapter.Lookup("server.absent", inv, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestLookupOptionsDriveMerge(t *testing.T) {
	resolver := yamlResolver(t,
		map[string]string{
			"node.yaml":   "users:\n  - alice\n  - bob\n",
			"common.yaml": "lookup_options:\n  users:\n    merge: unique\nusers:\n  - bob\n  - carol\n",
		},
		map[string]any{"name": "Node", "path": "node.yaml"},
		map[string]any{"name": "Common", "path": "common.yaml"},
	)
	adapter := NewLookupAdapter(WithEnvironmentConfig(resolver))
	inv := NewInvocation(MapScope{})

	value, err := adapter.Lookup("users", inv, nil)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	want := []any{"alice", "bob", "carol"}
	if !reflect.DeepEqual(want, value) {
		t.Fatalf("lookup_options merge mismatch:\nwant: %#v\n got: %#v", want, value)
	}

	// An explicit merge always beats the configured one.
	value, err = adapter.Lookup("users", inv, "first")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	want = []any{"alice", "bob"}
	if !reflect.DeepEqual(want, value) {
		t.Fatalf("explicit merge mismatch:\nwant: %#v\n got: %#v", want, value)
	}
}

func TestLookupOptionsNotResolvableAsData(t *testing.T) {
	resolver := yamlResolver(t,
		map[string]string{"common.yaml": "lookup_options:\n  users:\n    merge: unique\n"},
		map[string]any{"name": "Common", "path": "common.yaml"},
	)
	adapter := NewLookupAdapter(WithEnvironmentConfig(resolver))
	inv := NewInvocation(MapScope{}, WithExplainOptions())

	options, err := adapter.Lookup("users", inv, nil)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	entry, ok := options.(map[string]any)["users"].(map[string]any)
	if !ok || entry["merge"] != "unique" {
		t.Fatalf("options mapping mismatch: %#v", options)
	}
}

func TestModuleTierQualifiedKeysOnly(t *testing.T) {
	moduleResolver := yamlResolver(t,
		map[string]string{"common.yaml": "profile::port: 9090\n"},
		map[string]any{"name": "Common", "path": "common.yaml"},
	)
	adapter := NewLookupAdapter(WithModuleConfig("profile", moduleResolver))
	inv := NewInvocation(MapScope{})

	value, err := adapter.Lookup("profile::port", inv, nil)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if value != float64(9090) {
		t.Fatalf("want 9090, got %#v", value)
	}

	// Unqualified keys never reach the module tier.
	if _, err := adapter.Lookup("port", inv, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestGlobalTierPrecedesEnvironment(t *testing.T) {
	globalResolver := yamlResolver(t,
		map[string]string{"common.yaml": "port: 1\n"},
		map[string]any{"name": "Common", "path": "common.yaml"},
	)
	envResolver := yamlResolver(t,
		map[string]string{"common.yaml": "port: 2\nonly_env: true\n"},
		map[string]any{"name": "Common", "path": "common.yaml"},
	)
	adapter := NewLookupAdapter(
		WithGlobalConfig(globalResolver),
		WithEnvironmentConfig(envResolver),
	)
	inv := NewInvocation(MapScope{})

	value, err := adapter.Lookup("port", inv, nil)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if value != float64(1) {
		t.Fatalf("global tier must win, got %#v", value)
	}

	value, err = adapter.Lookup("only_env", inv, nil)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if value != true {
		t.Fatalf("environment tier must answer global misses, got %#v", value)
	}
}

func TestGlobalLookupDisabled(t *testing.T) {
	globalResolver := yamlResolver(t,
		map[string]string{"common.yaml": "port: 1\n"},
		map[string]any{"name": "Common", "path": "common.yaml"},
	)
	envResolver := yamlResolver(t,
		map[string]string{"common.yaml": "port: 2\n"},
		map[string]any{"name": "Common", "path": "common.yaml"},
	)
	adapter := NewLookupAdapter(
		WithGlobalConfig(globalResolver),
		WithEnvironmentConfig(envResolver),
		WithGlobalLookupDisabled(),
	)
	inv := NewInvocation(MapScope{})

	value, err := adapter.Lookup("port", inv, nil)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if value != float64(2) {
		t.Fatalf("disabled global tier must be skipped, got %#v", value)
	}
}

func TestLegacyDataBinding(t *testing.T) {
	envResolver := yamlResolver(t,
		map[string]string{"common.yaml": "fallthrough: env\n"},
		map[string]any{"name": "Common", "path": "common.yaml"},
	)
	fatal := errors.New("binding broke")
	adapter := NewLookupAdapter(
		WithEnvironmentConfig(envResolver),
		WithLegacyDataBinding(func(key string, inv *Invocation) (any, error) {
			switch key {
			case "bound":
				return "from binding", nil
			case "broken":
				return nil, fatal
			default:
				return nil, notFound(key)
			}
		}),
	)
	inv := NewInvocation(MapScope{})

	value, err := adapter.Lookup("bound", inv, nil)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if value != "from binding" {
		t.Fatalf("binding value mismatch: %#v", value)
	}

	value, err = adapter.Lookup("fallthrough", inv, nil)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if value != "env" {
		t.Fatalf("binding misses must fall through, got %#v", value)
	}

	_, err = adapter.Lookup("broken", inv, nil)
	var failed *LookupFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("binding failures must re-raise as LookupFailedError, got %v", err)
	}
	if !errors.Is(err, fatal) {
		t.Fatalf("the original cause must be preserved, got %v", err)
	}
}

func TestOverridesAndDefaults(t *testing.T) {
	resolver := yamlResolver(t,
		map[string]string{"common.yaml": "port: 80\n"},
		map[string]any{"name": "Common", "path": "common.yaml"},
	)
	adapter := NewLookupAdapter(WithEnvironmentConfig(resolver))
	inv := NewInvocation(MapScope{},
		WithOverrides(map[string]any{"port": 443}),
		WithDefaults(map[string]any{"timeout": map[string]any{"read": 5}}),
	)

	value, err := adapter.Lookup("port", inv, nil)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if value != 443 {
		t.Fatalf("overrides must short-circuit the tiers, got %#v", value)
	}

	// Defaults apply after every tier missed, then subkey navigation runs.
	value, err = adapter.Lookup("timeout.read", inv, nil)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if value != 5 {
		t.Fatalf("defaults must answer total misses, got %#v", value)
	}

	if _, err := adapter.Lookup("absent", inv, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestCyclicLookupDetected(t *testing.T) {
	registry := DefaultBackendRegistry()
	var adapter *LookupAdapter
	err := registry.RegisterLookupKey("recursive", func(key string, pctx *ProviderContext, options map[string]any) (any, error) {
		return adapter.Lookup(key, pctx.Invocation, nil)
	})
	if err != nil {
		t.Fatalf("RegisterLookupKey failed: %v", err)
	}

	resolver := NewConfigResolver(map[string]any{
		"version": 5,
		"hierarchy": []any{
			map[string]any{"name": "Recursive", "lookup_key": "recursive"},
		},
	}, "test.yaml", registry, NewScopeInterpolator())
	adapter = NewLookupAdapter(
		WithBackendRegistry(registry),
		WithEnvironmentConfig(resolver),
	)

	inv := NewInvocation(MapScope{})
	if _, err := adapter.Lookup("self", inv, nil); !errors.Is(err, ErrCyclicLookup) {
		t.Fatalf("want ErrCyclicLookup, got %v", err)
	}

	// The stack unwinds; a fresh lookup of another key is unaffected by the
	// earlier cycle.
	if _, err := adapter.Lookup("self", NewInvocation(MapScope{}), nil); !errors.Is(err, ErrCyclicLookup) {
		t.Fatalf("want ErrCyclicLookup, got %v", err)
	}
}

func TestModuleConfigOverridesLegacyProvider(t *testing.T) {
	resetDeprecations()
	moduleResolver := yamlResolver(t,
		map[string]string{"common.yaml": "profile::port: 9090\n"},
		map[string]any{"name": "Common", "path": "common.yaml"},
	)
	adapter := NewLookupAdapter(
		WithModuleConfig("profile", moduleResolver),
		WithModuleLegacyProvider("profile", "old_provider"),
	)
	hook := &recordingHook{}
	inv := NewInvocation(MapScope{}, WithExplainHooks(hook))

	value, err := adapter.Lookup("profile::port", inv, nil)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if value != float64(9090) {
		t.Fatalf("the configuration must take precedence, got %#v", value)
	}
	if len(hook.deprecations) != 1 {
		t.Fatalf("the override must be reported once, got %d", len(hook.deprecations))
	}
}

func TestUnregisteredModuleProviderCachedAbsent(t *testing.T) {
	adapter := NewLookupAdapter(WithModuleLegacyProvider("profile", "missing_provider"))
	hook := &recordingHook{}
	inv := NewInvocation(MapScope{}, WithExplainHooks(hook))

	for i := 0; i < 3; i++ {
		if _, err := adapter.Lookup("profile::port", inv, nil); !errors.Is(err, ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
	}
	reported := 0
	for _, text := range hook.texts {
		if text == `module "profile" declares data provider "missing_provider" which is not registered` {
			reported++
		}
	}
	if reported != 1 {
		t.Fatalf("absence must be resolved and reported once, got %d", reported)
	}
}

func TestModuleLookupOptionsMergeWithGlobalEnv(t *testing.T) {
	envResolver := yamlResolver(t,
		map[string]string{"common.yaml": "lookup_options:\n  profile::users:\n    merge: unique\nprofile::users:\n  - alice\n"},
		map[string]any{"name": "Common", "path": "common.yaml"},
	)
	moduleResolver := yamlResolver(t,
		map[string]string{"common.yaml": "lookup_options:\n  profile::users:\n    merge: first\n  profile::extras:\n    merge: hash\nprofile::users:\n  - bob\n"},
		map[string]any{"name": "Common", "path": "common.yaml"},
	)
	adapter := NewLookupAdapter(
		WithEnvironmentConfig(envResolver),
		WithModuleConfig("profile", moduleResolver),
	)
	hook := &recordingHook{}
	inv := NewInvocation(MapScope{}, WithExplainHooks(hook))

	// The environment entry wins for the shared key, so the unique merge
	// combines both tiers.
	value, err := adapter.Lookup("profile::users", inv, nil)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	want := []any{"alice", "bob"}
	if !reflect.DeepEqual(want, value) {
		t.Fatalf("merged options mismatch:\nwant: %#v\n got: %#v", want, value)
	}
	if len(hook.mergeSources) == 0 {
		t.Fatalf("the winning pseudo-source must be reported")
	}
	if hook.mergeSources[0] != "Global and Environment" {
		t.Fatalf("merge source mismatch: %q", hook.mergeSources[0])
	}
}

func TestMalformedLookupOptionsDropped(t *testing.T) {
	resolver := yamlResolver(t,
		map[string]string{"common.yaml": "lookup_options:\n  users: unique\nusers:\n  - alice\n"},
		map[string]any{"name": "Common", "path": "common.yaml"},
	)
	adapter := NewLookupAdapter(WithEnvironmentConfig(resolver))
	hook := &recordingHook{}
	inv := NewInvocation(MapScope{}, WithExplainHooks(hook))

	// The malformed entry is dropped; the lookup falls back to first-found.
	value, err := adapter.Lookup("users", inv, nil)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !reflect.DeepEqual([]any{"alice"}, value) {
		t.Fatalf("unexpected value: %#v", value)
	}
	if len(hook.texts) == 0 {
		t.Fatalf("the malformed entry must be reported")
	}
}
