// Package registry owns the set of loaded keyboard layouts.
//
// A Registry is safe for concurrent use. Definitions are immutable, so
// readers hold plain pointers; Load swaps whole entries under the write lock
// and Clear drops them, meaning a reader never observes a partially built
// layout and previously returned pointers stay valid for their holders.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"

	"github.com/WinkyTy/layout-converter/internal/layout"
)

// ErrLayoutNotFound is matched by every NotFoundError.
var ErrLayoutNotFound = errors.New("layout not found")

// NotFoundError reports a layout id that is not registered.
type NotFoundError struct {
	ID         string
	Suggestion string
}

func (e *NotFoundError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("layout %q not found (did you mean %q?)", e.ID, e.Suggestion)
	}
	return fmt.Sprintf("layout %q not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrLayoutNotFound
}

// maxSuggestDistance bounds how different an id may be to still be suggested.
const maxSuggestDistance = 3

// Registry maps layout ids to definitions and remembers registration order.
type Registry struct {
	mu      sync.RWMutex
	layouts map[string]*layout.Definition
	order   []string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{layouts: make(map[string]*layout.Definition)}
}

// Load inserts def under id, replacing any previous entry. A replaced entry
// keeps its registration slot. The tables are re-verified before insertion so
// an inconsistent definition is never stored.
func (r *Registry) Load(id string, def *layout.Definition) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return &layout.LoadError{Kind: layout.KindMissingField, Field: "id"}
	}
	if def == nil || def.Len() == 0 {
		return &layout.LoadError{Kind: layout.KindMissingField, Layout: id, Field: "key_mappings"}
	}
	if err := def.Verify(); err != nil {
		return &layout.LoadError{Kind: layout.KindMalformedMapping, Layout: id, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.layouts[id]; !exists {
		r.order = append(r.order, id)
	}
	r.layouts[id] = def
	return nil
}

// LoadDescriptor builds a definition from d and loads it under id. An empty
// id falls back to d.ID.
func (r *Registry) LoadDescriptor(id string, d layout.Descriptor) error {
	if strings.TrimSpace(id) == "" {
		id = d.ID
	}
	def, err := layout.New(d)
	if err != nil {
		return err
	}
	return r.Load(id, def)
}

// Get returns the layout registered under id.
func (r *Registry) Get(id string) (*layout.Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.layouts[id]
	return def, ok
}

// Lookup is Get with a *NotFoundError for unknown ids.
func (r *Registry) Lookup(id string) (*layout.Definition, error) {
	if def, ok := r.Get(id); ok {
		return def, nil
	}
	return nil, &NotFoundError{ID: id, Suggestion: r.Suggest(id)}
}

// Suggest returns the registered id closest to id, or "" when nothing is
// close enough.
func (r *Registry) Suggest(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	needle := strings.ToLower(id)
	best, bestDist := "", maxSuggestDistance+1
	for _, candidate := range r.order {
		d := levenshtein.ComputeDistance(needle, strings.ToLower(candidate))
		if d < bestDist {
			best, bestDist = candidate, d
		}
	}
	return best
}

// Remove evicts id. It reports whether an entry was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.layouts[id]; !ok {
		return false
	}
	delete(r.layouts, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns the loaded ids in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Entry pairs a registry id with its definition.
type Entry struct {
	ID     string
	Layout *layout.Definition
}

// Snapshot returns every entry in registration order. The slice is the
// caller's; the definitions are shared.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, Entry{ID: id, Layout: r.layouts[id]})
	}
	return out
}

// Len returns the number of loaded layouts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.layouts)
}

// Clear drops every entry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.layouts = make(map[string]*layout.Definition)
	r.order = nil
}

// LoadBuiltins installs the built-in layouts under their own ids.
func LoadBuiltins(r *Registry) error {
	for _, d := range layout.Builtins() {
		if err := r.LoadDescriptor(d.ID, d); err != nil {
			return fmt.Errorf("builtin %s: %w", d.ID, err)
		}
	}
	return nil
}
