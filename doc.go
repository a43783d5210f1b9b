// Package lookup resolves dotted keys against an ordered hierarchy of data
// sources. A LookupAdapter drives the fixed global → environment → module
// tier stack, each tier backed by an ordered provider list built from a
// versioned hierarchy-configuration document, and combines results through a
// pluggable merge strategy.
//
//	adapter := lookup.NewLookupAdapter(
//		lookup.WithEnvironmentConfig(envConfig),
//	)
//	inv := lookup.NewInvocation(lookup.MapScope{"environment": "production"})
//	value, err := adapter.Lookup("profile::server.port", inv, nil)
//
// Resolved provider topology and per-key merge options are cached for the
// adapter's lifetime; hierarchy resolution is re-done only when a scope
// variable referenced during interpolation changes.
package lookup
