// Package registry implements the insertion-ordered registries backing the
// StatusNotifierWatcher: one for tray items, one for panel hosts. A registry
// is plain in-memory bookkeeping; callers are expected to serialize access
// (the watcher runs all mutations on a single goroutine).
package registry

import (
	"errors"
	"strings"
)

// ErrInvalidIdentifier is returned when a register call carries a malformed
// identity, such as an empty bus name. The registry is not mutated.
var ErrInvalidIdentifier = errors.New("registry: invalid identifier")

// Outcome reports what a mutation actually did. Duplicate registers and late
// unregisters are valid calls that change nothing; callers use the outcome to
// decide whether a change signal is due.
type Outcome int

const (
	Inserted Outcome = iota
	AlreadyPresent
	Removed
	NotFound
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case AlreadyPresent:
		return "already-present"
	case Removed:
		return "removed"
	case NotFound:
		return "not-found"
	default:
		return "unknown"
	}
}

// Changed reports whether the outcome represents an actual state change.
func (o Outcome) Changed() bool {
	return o == Inserted || o == Removed
}

// ItemKey identifies a registered tray item. Items are unique per
// (bus name, object path) pair; one connection may expose items at several
// paths, each a separate entry.
type ItemKey struct {
	BusName    string
	ObjectPath string
}

// HostKey identifies a registered panel host by its bus name alone.
type HostKey struct {
	BusName string
}

type entry[K comparable, V any] struct {
	key K
	val V
	seq uint64
}

// Registry is an insertion-ordered mapping from identity keys to their wire
// representation. Each entry additionally records a monotonic registration
// sequence number, which keeps enumeration deterministic. The zero value is
// not usable; use New.
type Registry[K comparable, V any] struct {
	index   map[K]int
	entries []entry[K, V]
	owner   func(K) string
	clock   uint64
}

// New returns an empty registry. The owner function extracts the owning bus
// name from a key; it drives RemoveAllFor and identifier validation.
func New[K comparable, V any](owner func(K) string) *Registry[K, V] {
	return &Registry[K, V]{
		index: make(map[K]int),
		owner: owner,
	}
}

// NewItems returns a registry keyed for tray items. The value is the item's
// wire service string.
func NewItems() *Registry[ItemKey, string] {
	return New[ItemKey, string](func(k ItemKey) string { return k.BusName })
}

// NewHosts returns a registry keyed for panel hosts.
func NewHosts() *Registry[HostKey, string] {
	return New[HostKey, string](func(k HostKey) string { return k.BusName })
}

// Register inserts key with the given value if absent. It returns
// AlreadyPresent for duplicates without touching the registry, and
// ErrInvalidIdentifier for keys with an empty or whitespace-only bus name.
func (r *Registry[K, V]) Register(key K, val V) (Outcome, error) {
	if strings.TrimSpace(r.owner(key)) == "" {
		return NotFound, ErrInvalidIdentifier
	}

	if _, ok := r.index[key]; ok {
		return AlreadyPresent, nil
	}

	r.clock++
	r.index[key] = len(r.entries)
	r.entries = append(r.entries, entry[K, V]{key: key, val: val, seq: r.clock})

	return Inserted, nil
}

// Unregister removes key if present. NotFound is a valid outcome signaling no
// state change, never an error.
func (r *Registry[K, V]) Unregister(key K) Outcome {
	idx, ok := r.index[key]
	if !ok {
		return NotFound
	}

	r.removeAt(idx)

	return Removed
}

// RemoveAllFor removes every entry owned by busName in one step and returns
// the removed values in their original insertion order. Used when the owning
// connection drops off the bus, so that no partially-removed state of a
// crashed publisher is ever observable.
func (r *Registry[K, V]) RemoveAllFor(busName string) []V {
	var removed []V

	kept := r.entries[:0]
	for _, e := range r.entries {
		if r.owner(e.key) == busName {
			removed = append(removed, e.val)
			delete(r.index, e.key)
			continue
		}
		kept = append(kept, e)
	}

	r.entries = kept
	for idx, e := range r.entries {
		r.index[e.key] = idx
	}

	return removed
}

// RegisteredAt returns key's registration sequence number. Numbers are
// monotonic across the registry's lifetime and never reused; they order
// entries logically without reference to wall time.
func (r *Registry[K, V]) RegisteredAt(key K) (uint64, bool) {
	idx, ok := r.index[key]
	if !ok {
		return 0, false
	}
	return r.entries[idx].seq, true
}

// Contains reports whether key is registered.
func (r *Registry[K, V]) Contains(key K) bool {
	_, ok := r.index[key]
	return ok
}

// Owns reports whether busName owns at least one entry.
func (r *Registry[K, V]) Owns(busName string) bool {
	for _, e := range r.entries {
		if r.owner(e.key) == busName {
			return true
		}
	}
	return false
}

// Len returns the number of registered entries.
func (r *Registry[K, V]) Len() int {
	return len(r.entries)
}

// Snapshot returns the registered values in insertion order. The returned
// slice is a copy and stays consistent regardless of later mutations.
func (r *Registry[K, V]) Snapshot() []V {
	vals := make([]V, len(r.entries))
	for idx, e := range r.entries {
		vals[idx] = e.val
	}
	return vals
}

func (r *Registry[K, V]) removeAt(idx int) {
	delete(r.index, r.entries[idx].key)
	r.entries = append(r.entries[:idx], r.entries[idx+1:]...)

	for i := idx; i < len(r.entries); i++ {
		r.index[r.entries[i].key] = i
	}
}
