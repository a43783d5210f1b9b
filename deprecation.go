package lookup

import "sync"

// deprecations tracks which deprecation keys have already been reported.
// Scope is the process lifetime: each distinct key is reported at most once
// no matter how many adapters or invocations observe it.
var deprecations sync.Map

// deprecationWarning reports message as a deprecation diagnostic, de-duplicated
// by key. Deprecations never alter control flow.
func deprecationWarning(inv *Invocation, key, message string) {
	if _, seen := deprecations.LoadOrStore(key, struct{}{}); seen {
		return
	}
	inv.reportDeprecation(message)
}

// resetDeprecations clears the de-duplication set. Tests only.
func resetDeprecations() {
	deprecations.Range(func(key, _ any) bool {
		deprecations.Delete(key)
		return true
	})
}
