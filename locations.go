package lookup

import (
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// LocationKind identifies how a hierarchy entry declares its data locations.
type LocationKind string

const (
	// LocationPath locations are files under a datadir.
	LocationPath LocationKind = "path"
	// LocationGlob locations are expanded from glob patterns over a datadir.
	LocationGlob LocationKind = "glob"
	// LocationURI locations are opaque URIs handed to the backend untouched.
	LocationURI LocationKind = "uri"
)

// Location is one concrete, resolvable location descriptor. Original keeps
// the declared template for diagnostics; Resolved is the interpolated
// concrete path or URI. Existence is checked lazily at lookup time.
type Location struct {
	Kind     LocationKind
	Original string
	Resolved string
}

// exists reports whether a path-like location is present on disk. Glob
// locations exist by construction; URIs are presumed reachable and left to
// the backend.
func (l Location) exists() bool {
	switch l.Kind {
	case LocationURI:
		return true
	case LocationGlob:
		return true
	default:
		_, err := os.Stat(l.Resolved)
		return err == nil
	}
}

// ResolvePaths interpolates each declared path and joins it onto datadir,
// producing one location per declaration in order. The datadir itself may
// carry %{...} tokens; it is expanded the same way as the path templates.
// Existence is not checked here.
func ResolvePaths(datadir string, declared []string, inv *Invocation, interp Interpolator) ([]Location, error) {
	datadir, err := interp.Interpolate(datadir, inv, false)
	if err != nil {
		return nil, err
	}
	locations := make([]Location, 0, len(declared))
	for _, template := range declared {
		resolved, err := interp.Interpolate(template, inv, false)
		if err != nil {
			return nil, err
		}
		if resolved == "" {
			// Every variable in the template was undefined; there is no
			// location to read.
			continue
		}
		locations = append(locations, Location{
			Kind:     LocationPath,
			Original: template,
			Resolved: joinLocation(datadir, resolved),
		})
	}
	return locations, nil
}

// ExpandGlobs interpolates each pattern, compiles it, and walks datadir
// collecting matching files in lexical order. The datadir is interpolated
// like the patterns; patterns that match nothing contribute no locations.
func ExpandGlobs(datadir string, patterns []string, inv *Invocation, interp Interpolator) ([]Location, error) {
	datadir, err := interp.Interpolate(datadir, inv, false)
	if err != nil {
		return nil, err
	}
	var locations []Location
	for _, template := range patterns {
		resolved, err := interp.Interpolate(template, inv, false)
		if err != nil {
			return nil, err
		}
		if resolved == "" {
			continue
		}
		matcher, err := glob.Compile(resolved, '/')
		if err != nil {
			return nil, err
		}
		var matches []string
		root := datadir
		if root == "" {
			root = "."
		}
		walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				// Unreadable subtrees simply contribute no matches.
				return nil
			}
			if entry.IsDir() {
				return nil
			}
			relative, err := filepath.Rel(root, path)
			if err != nil {
				return nil
			}
			if matcher.Match(filepath.ToSlash(relative)) {
				matches = append(matches, path)
			}
			return nil
		})
		if walkErr != nil && !os.IsNotExist(walkErr) {
			return nil, walkErr
		}
		sort.Strings(matches)
		for _, match := range matches {
			locations = append(locations, Location{
				Kind:     LocationGlob,
				Original: template,
				Resolved: match,
			})
		}
	}
	return locations, nil
}

// ExpandURIs interpolates and parses each declared URI, preserving order.
// Invalid URIs are errors.
func ExpandURIs(declared []string, inv *Invocation, interp Interpolator) ([]Location, error) {
	locations := make([]Location, 0, len(declared))
	for _, template := range declared {
		resolved, err := interp.Interpolate(template, inv, true)
		if err != nil {
			return nil, err
		}
		if resolved == "" {
			continue
		}
		if _, err := url.Parse(resolved); err != nil {
			return nil, err
		}
		locations = append(locations, Location{
			Kind:     LocationURI,
			Original: template,
			Resolved: resolved,
		})
	}
	return locations, nil
}

// joinLocation roots relative paths under datadir, leaving absolute paths
// untouched.
func joinLocation(datadir, path string) string {
	if datadir == "" || filepath.IsAbs(path) || strings.HasPrefix(path, "/") {
		return filepath.Clean(path)
	}
	return filepath.Join(datadir, path)
}
