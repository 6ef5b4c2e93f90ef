package verify

import (
	"bytes"
	"sort"
	"strings"
	"sync"
)

// CompareFunc judges read-back data for one track format. It is called only
// when a plain byte comparison already failed and actual is at least as long
// as expected.
type CompareFunc func(expected, actual []byte) Status

// Registry maps format identifiers to format-aware comparators. Callers own
// their registries and pass them to New; there is no process-wide instance.
type Registry struct {
	mu sync.RWMutex
	m  map[string]CompareFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[string]CompareFunc)}
}

// DefaultRegistry returns a registry with the built-in comparators:
// raw GCR nibble tracks ("g64", "nib") compare rotation-insensitively
// because a drive starts reading them at an arbitrary point of the track.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("g64", RotationCompare)
	r.Register("nib", RotationCompare)
	return r
}

// Register installs fn for format, replacing any earlier comparator.
func (r *Registry) Register(format string, fn CompareFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[strings.ToLower(format)] = fn
}

// Lookup returns the comparator for format. A nil registry has none.
func (r *Registry) Lookup(format string) (CompareFunc, bool) {
	if r == nil || format == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.m[strings.ToLower(format)]
	return fn, ok
}

// Formats lists the registered formats in sorted order.
func (r *Registry) Formats() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.m))
	for k := range r.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RotationCompare accepts actual when it is expected rotated by any number
// of bytes.
func RotationCompare(expected, actual []byte) Status {
	if len(actual) < len(expected) {
		return StatusSizeMismatch
	}
	a := actual[:len(expected)]
	doubled := make([]byte, 0, 2*len(a))
	doubled = append(append(doubled, a...), a...)
	if bytes.Contains(doubled, expected) {
		return StatusOK
	}
	return StatusMismatch
}
