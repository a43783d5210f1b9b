package lookup

import (
	"strings"
	"testing"
)

func TestScopeInterpolatorExpandsVariables(t *testing.T) {
	inv := NewInvocation(MapScope{
		"environment": "Production",
		"facts": map[string]any{
			"os": map[string]any{"family": "Debian"},
		},
		"port": 8080,
	})
	engine := NewScopeInterpolator()

	cases := []struct {
		name         string
		template     string
		preserveCase bool
		want         string
	}{
		{name: "no token passthrough", template: "common.yaml", want: "common.yaml"},
		{name: "bare variable lowercased", template: "nodes/%{environment}.yaml", want: "nodes/production.yaml"},
		{name: "preserve case", template: "%{environment}", preserveCase: true, want: "Production"},
		{name: "dotted navigation", template: "os/%{facts.os.family}.yaml", want: "os/debian.yaml"},
		{name: "scope call", template: "%{scope('environment')}", preserveCase: true, want: "Production"},
		{name: "literal call", template: "%{literal('%')}{raw}", preserveCase: true, want: "%{raw}"},
		{name: "unknown variable empty", template: "a%{missing}b", want: "ab"},
		{name: "empty token", template: "a%{}b", want: "ab"},
		{name: "non-string value", template: "%{port}", want: "8080"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := engine.Interpolate(tc.template, inv, tc.preserveCase)
			if err != nil {
				t.Fatalf("Interpolate(%q) failed: %v", tc.template, err)
			}
			if got != tc.want {
				t.Fatalf("want %q, got %q", tc.want, got)
			}
		})
	}
}

func TestScopeInterpolatorUnterminatedToken(t *testing.T) {
	engine := NewScopeInterpolator()
	inv := NewInvocation(MapScope{})
	if _, err := engine.Interpolate("broken/%{environment", inv, false); err == nil {
		t.Fatalf("unterminated token must fail")
	}
}

func TestSplitTemplateSegments(t *testing.T) {
	segments, err := splitTemplate("a/%{x}/b%{ y }")
	if err != nil {
		t.Fatalf("splitTemplate failed: %v", err)
	}
	if len(segments) != 4 {
		t.Fatalf("want 4 segments, got %d: %#v", len(segments), segments)
	}
	if segments[1].text != "x" || !segments[1].token {
		t.Fatalf("token segment mismatch: %#v", segments[1])
	}
	if segments[3].text != "y" {
		t.Fatalf("token content must be trimmed, got %q", segments[3].text)
	}
}

func TestMapScopeDottedNavigation(t *testing.T) {
	scope := MapScope{
		"flat.key": "direct",
		"nested":   map[string]any{"inner": 1},
	}
	if value, ok := scope.Get("flat.key"); !ok || value != "direct" {
		t.Fatalf("literal dotted key must win: %v %v", value, ok)
	}
	if value, ok := scope.Get("nested.inner"); !ok || value != 1 {
		t.Fatalf("dotted navigation failed: %v %v", value, ok)
	}
	if _, ok := scope.Get("nested.absent"); ok {
		t.Fatalf("missing nested key must miss")
	}
}

func TestTrackingScopeCapturesMisses(t *testing.T) {
	tracking := newTrackingScope(MapScope{"present": "yes"})

	if _, ok := tracking.Get("present"); !ok {
		t.Fatalf("present variable must resolve")
	}
	if _, ok := tracking.Get("absent"); ok {
		t.Fatalf("absent variable must miss")
	}

	snapshot := tracking.snapshot()
	if _, captured := snapshot["absent"]; !captured {
		t.Fatalf("misses must be captured: %#v", snapshot)
	}

	if !snapshotStable(snapshot, MapScope{"present": "yes"}) {
		t.Fatalf("unchanged scope must be stable")
	}
	if snapshotStable(snapshot, MapScope{"present": "no"}) {
		t.Fatalf("changed variable must invalidate the snapshot")
	}
	if snapshotStable(snapshot, MapScope{"present": "yes", "absent": "now here"}) {
		t.Fatalf("a variable appearing after a captured miss must invalidate the snapshot")
	}
}

func TestInterpolateValueWalksStructures(t *testing.T) {
	inv := NewInvocation(MapScope{"region": "EU-West"})
	engine := NewScopeInterpolator()

	value := map[string]any{
		"plain":  "untouched",
		"region": "%{region}",
		"list":   []any{"%{region}", 1},
	}
	got, err := interpolateValue(value, inv, engine)
	if err != nil {
		t.Fatalf("interpolateValue failed: %v", err)
	}
	expanded := got.(map[string]any)
	// Data values preserve case, unlike location templates.
	if expanded["region"] != "EU-West" {
		t.Fatalf("value interpolation mismatch: %#v", expanded)
	}
	if expanded["list"].([]any)[0] != "EU-West" {
		t.Fatalf("sequence interpolation mismatch: %#v", expanded)
	}
	if expanded["plain"] != "untouched" {
		t.Fatalf("plain values must pass through: %#v", expanded)
	}
}

func TestMemoryProgramCacheRoundTrip(t *testing.T) {
	cache := NewMemoryProgramCache()
	if _, ok := cache.Get("expr"); ok {
		t.Fatalf("empty cache must miss")
	}
	cache.Set("expr", 42)
	value, ok := cache.Get("expr")
	if !ok || value != 42 {
		t.Fatalf("cache round trip failed: %v %v", value, ok)
	}
}

func TestInterpolationCallParsing(t *testing.T) {
	if arg, ok := interpolationCall("scope('env')", "scope"); !ok || arg != "env" {
		t.Fatalf("single-quoted call mismatch: %q %v", arg, ok)
	}
	if arg, ok := interpolationCall(`literal("x")`, "literal"); !ok || arg != "x" {
		t.Fatalf("double-quoted call mismatch: %q %v", arg, ok)
	}
	if _, ok := interpolationCall("scope(env)", "scope"); ok {
		t.Fatalf("unquoted argument must not parse")
	}
	if _, ok := interpolationCall("other('env')", "scope"); ok {
		t.Fatalf("wrong function name must not parse")
	}
}

func TestStringifyScopeValue(t *testing.T) {
	if got := stringifyScopeValue("s"); got != "s" {
		t.Fatalf("string mismatch: %q", got)
	}
	if got := stringifyScopeValue(nil); got != "" {
		t.Fatalf("nil must stringify empty, got %q", got)
	}
	if got := stringifyScopeValue(true); got != "true" {
		t.Fatalf("bool mismatch: %q", got)
	}
	if got := stringifyScopeValue(3); !strings.Contains(got, "3") {
		t.Fatalf("number mismatch: %q", got)
	}
}
