package layout

import (
	"errors"
	"fmt"
)

// Kind classifies a LoadError.
type Kind int

const (
	// KindUnreadable means the layout source could not be read or decoded.
	KindUnreadable Kind = iota + 1
	// KindMissingField means a required field was absent.
	KindMissingField
	// KindInvalidField means a field was present but out of range or of the wrong type.
	KindInvalidField
	// KindMalformedMapping means the key mapping is not a bijection of
	// positions and characters.
	KindMalformedMapping
)

// Sentinels matched by LoadError.Is.
var (
	ErrUnreadable       = errors.New("layout source unreadable")
	ErrMissingField     = errors.New("missing required field")
	ErrInvalidField     = errors.New("invalid field")
	ErrMalformedMapping = errors.New("malformed key mapping")
)

func (k Kind) sentinel() error {
	switch k {
	case KindUnreadable:
		return ErrUnreadable
	case KindMissingField:
		return ErrMissingField
	case KindInvalidField:
		return ErrInvalidField
	case KindMalformedMapping:
		return ErrMalformedMapping
	}
	return nil
}

func (k Kind) String() string {
	switch k {
	case KindUnreadable:
		return "unreadable"
	case KindMissingField:
		return "missing_field"
	case KindInvalidField:
		return "invalid_field"
	case KindMalformedMapping:
		return "malformed_mapping"
	default:
		return "unknown"
	}
}

// LoadError reports why a layout could not be loaded. The layout is absent
// from the registry whenever a LoadError is returned.
type LoadError struct {
	Kind   Kind
	Layout string // layout id, if known
	Field  string // offending field, if any
	Source string // file path or other origin, if any
	Err    error
}

func (e *LoadError) Error() string {
	msg := "load layout"
	if e.Layout != "" {
		msg += " " + e.Layout
	}
	if e.Source != "" {
		msg += " (" + e.Source + ")"
	}
	msg += ": " + e.Kind.sentinel().Error()
	if e.Field != "" {
		msg += " " + e.Field
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinel, so errors.Is(err, ErrMissingField) works.
func (e *LoadError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// InvalidMappingError reports a key/character pair that does not round-trip.
type InvalidMappingError struct {
	Layout string
	Key    int
	Char   string
	Reason string
}

func (e *InvalidMappingError) Error() string {
	return fmt.Sprintf("layout %s: key %d <-> %q: %s", e.Layout, e.Key, e.Char, e.Reason)
}

func missingField(id, field string) error {
	return &LoadError{Kind: KindMissingField, Layout: id, Field: field}
}

func invalidField(id, field, format string, args ...any) error {
	return &LoadError{Kind: KindInvalidField, Layout: id, Field: field, Err: fmt.Errorf(format, args...)}
}

func malformed(id string, err error) error {
	return &LoadError{Kind: KindMalformedMapping, Layout: id, Err: err}
}

// Unreadable wraps err as a KindUnreadable LoadError for source.
func Unreadable(source string, err error) error {
	return &LoadError{Kind: KindUnreadable, Source: source, Err: err}
}

// KindOf returns the LoadError kind carried by err, or 0.
func KindOf(err error) Kind {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Kind
	}
	return 0
}
