package lookup

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals that a source produced no value for a key. It is an
	// expected outcome: merge strategies and tier boundaries test for it with
	// errors.Is and continue with the next source. It never escapes the
	// top-level Lookup call wrapped in anything fatal.
	ErrNotFound = errors.New("lookup: key not found")

	// ErrInvalidKey indicates a malformed key or misuse of the reserved
	// lookup_options key.
	ErrInvalidKey = errors.New("lookup: invalid key")

	// ErrCyclicLookup indicates a key resolved back into itself within one
	// call chain. Always fatal.
	ErrCyclicLookup = errors.New("lookup: recursive lookup detected")

	// ErrConfiguration is the root of all fatal configuration errors:
	// schema violations, duplicate hierarchy names, ambiguous function or
	// location kinds, unsupported versions, unresolved backends.
	ErrConfiguration = errors.New("lookup: invalid configuration")

	// ErrUnrecognizedMerge indicates an unknown merge strategy tag.
	ErrUnrecognizedMerge = errors.New("lookup: unrecognized merge strategy")
)

// NotFoundError decorates ErrNotFound with the key (and optionally the subkey
// segment) that failed, so diagnostics can name the exact miss.
type NotFoundError struct {
	Key     string
	Segment string
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Segment != "" {
		return fmt.Sprintf("lookup: key %q not found: no value for segment %q", e.Key, e.Segment)
	}
	return fmt.Sprintf("lookup: key %q not found", e.Key)
}

// Is makes every NotFoundError match ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func notFound(key string) error {
	return &NotFoundError{Key: key}
}

func notFoundAt(key, segment string) error {
	return &NotFoundError{Key: key, Segment: segment}
}

// ConfigError is a fatal configuration failure tied to one configuration
// source (a file path or "<synthesized>").
type ConfigError struct {
	Source string
	Msg    string
	Err    error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "<nil>"
	}
	source := e.Source
	if source == "" {
		source = "<unknown>"
	}
	if e.Err != nil {
		return fmt.Sprintf("lookup: %s: %s: %v", source, e.Msg, e.Err)
	}
	return fmt.Sprintf("lookup: %s: %s", source, e.Msg)
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.Err != nil {
		return e.Err
	}
	return ErrConfiguration
}

// Is makes every ConfigError match ErrConfiguration even when it wraps a
// lower-level cause.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

func configErrorf(source, format string, args ...any) error {
	return &ConfigError{Source: source, Msg: fmt.Sprintf(format, args...)}
}

// LookupFailedError wraps a failure raised by the legacy data-binding
// terminus. Fatal; the original cause is preserved for callers.
type LookupFailedError struct {
	Key string
	Err error
}

func (e *LookupFailedError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("lookup: lookup of %q failed: %v", e.Key, e.Err)
}

func (e *LookupFailedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
