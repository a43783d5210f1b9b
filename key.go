package lookup

import (
	"fmt"
	"strconv"
	"strings"
)

// ReservedKey is the key that carries per-key merge defaults. It is consulted
// internally and is never resolvable as ordinary data.
const ReservedKey = "lookup_options"

// ModuleSeparator splits a module qualifier from the rest of a key.
const ModuleSeparator = "::"

// Key is a parsed lookup key: the root key queried against backends, an
// optional owning-module qualifier, and the residual subkey path used to
// navigate into the retrieved value. Immutable once parsed.
type Key struct {
	raw      string
	rootKey  string
	module   string
	segments []any // string map keys and int array indexes
}

// ParseKey splits raw into a root key, module qualifier, and subkey segments.
// Dots separate segments; single or double quotes protect dots inside a
// segment; all-digit segments become array indexes. The reserved
// lookup_options key (and any dotted child of it) is rejected with
// ErrInvalidKey.
func ParseKey(raw string) (*Key, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: key must not be empty", ErrInvalidKey)
	}
	if raw == ReservedKey || strings.HasPrefix(raw, ReservedKey+".") {
		return nil, fmt.Errorf("%w: %q is reserved", ErrInvalidKey, ReservedKey)
	}

	parts, err := splitKey(raw)
	if err != nil {
		return nil, err
	}

	root := parts[0]
	key := &Key{raw: raw, rootKey: root}
	if idx := strings.Index(root, ModuleSeparator); idx > 0 {
		key.module = root[:idx]
	}

	for _, part := range parts[1:] {
		if n, err := strconv.Atoi(part); err == nil {
			key.segments = append(key.segments, n)
			continue
		}
		key.segments = append(key.segments, part)
	}
	return key, nil
}

// splitKey splits raw on unquoted dots, stripping one level of quotes.
func splitKey(raw string) ([]string, error) {
	var (
		parts   []string
		current strings.Builder
		quote   rune
	)
	flush := func() error {
		if current.Len() == 0 {
			return fmt.Errorf("%w: %q contains an empty segment", ErrInvalidKey, raw)
		}
		parts = append(parts, current.String())
		current.Reset()
		return nil
	}
	for _, r := range raw {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			current.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
		case r == '.':
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			current.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("%w: unterminated quote in %q", ErrInvalidKey, raw)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return parts, nil
}

// String returns the raw key.
func (k *Key) String() string { return k.raw }

// RootKey returns the string used to query a backend, including any module
// qualifier.
func (k *Key) RootKey() string { return k.rootKey }

// ModuleName returns the module qualifier, or "" when the key is unqualified.
func (k *Key) ModuleName() string { return k.module }

// HasSegments reports whether the key carries a subkey path.
func (k *Key) HasSegments() bool { return len(k.segments) > 0 }

// Navigate walks the subkey path into value. A missing segment or a value
// that cannot be indexed fails the entire lookup as not-found naming the
// failing segment; this is terminal, never a fallback to another provider.
func (k *Key) Navigate(inv *Invocation, value any) (any, error) {
	for _, segment := range k.segments {
		label := fmt.Sprintf("%v", segment)
		switch current := value.(type) {
		case map[string]any:
			next, ok := current[label]
			if !ok {
				inv.ReportText(func() string {
					return fmt.Sprintf("no sub-key %q in value for %q", label, k.raw)
				})
				return nil, notFoundAt(k.raw, label)
			}
			value = next
		case []any:
			idx, ok := segment.(int)
			if !ok || idx < 0 || idx >= len(current) {
				inv.ReportText(func() string {
					return fmt.Sprintf("sub-key %q is not a valid index into value for %q", label, k.raw)
				})
				return nil, notFoundAt(k.raw, label)
			}
			value = current[idx]
		default:
			inv.ReportText(func() string {
				return fmt.Sprintf("value for %q is not a hash or array at sub-key %q", k.raw, label)
			})
			return nil, notFoundAt(k.raw, label)
		}
	}
	return value, nil
}

// reservedLookupKey builds the key used internally when resolving
// lookup_options. The root key is always the bare reserved key; the module
// field only directs which tier is consulted. Bypasses the reserved-key guard.
func reservedLookupKey(module string) *Key {
	return &Key{raw: ReservedKey, rootKey: ReservedKey, module: module}
}
