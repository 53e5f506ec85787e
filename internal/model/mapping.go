package model

import "slices"

// RequiresProvidesMapping is a bidirectional many-to-many dependency map.
//
// For every mutation the invariant provides(B) = {A : B in requires(A)}
// holds. The zero value is not usable; call NewMapping.
type RequiresProvidesMapping struct {
	requires map[ResourceID]map[ResourceID]struct{}
	provides map[ResourceID]map[ResourceID]struct{}
}

// NewMapping returns an empty mapping.
func NewMapping() *RequiresProvidesMapping {
	return &RequiresProvidesMapping{
		requires: make(map[ResourceID]map[ResourceID]struct{}),
		provides: make(map[ResourceID]map[ResourceID]struct{}),
	}
}

// AddRequires records that a requires b.
func (m *RequiresProvidesMapping) AddRequires(a, b ResourceID) {
	link(m.requires, a, b)
	link(m.provides, b, a)
}

// RemoveRequires removes the edge a requires b, if present.
func (m *RequiresProvidesMapping) RemoveRequires(a, b ResourceID) {
	unlink(m.requires, a, b)
	unlink(m.provides, b, a)
}

// SetRequires replaces the full requires set of a.
func (m *RequiresProvidesMapping) SetRequires(a ResourceID, deps []ResourceID) {
	for b := range m.requires[a] {
		m.RemoveRequires(a, b)
	}
	for _, b := range deps {
		m.AddRequires(a, b)
	}
}

// Delete removes id and every edge touching it.
func (m *RequiresProvidesMapping) Delete(id ResourceID) {
	for b := range m.requires[id] {
		unlink(m.provides, b, id)
	}
	for a := range m.provides[id] {
		unlink(m.requires, a, id)
	}
	delete(m.requires, id)
	delete(m.provides, id)
}

// RequiresOf returns the resources a requires, sorted.
func (m *RequiresProvidesMapping) RequiresOf(a ResourceID) []ResourceID {
	return sortedSet(m.requires[a])
}

// ProvidesOf returns the resources that require b, sorted.
func (m *RequiresProvidesMapping) ProvidesOf(b ResourceID) []ResourceID {
	return sortedSet(m.provides[b])
}

// Requires reports whether the edge a requires b exists.
func (m *RequiresProvidesMapping) Requires(a, b ResourceID) bool {
	_, ok := m.requires[a][b]
	return ok
}

// Clone returns a deep copy.
func (m *RequiresProvidesMapping) Clone() *RequiresProvidesMapping {
	out := NewMapping()
	for a, deps := range m.requires {
		for b := range deps {
			out.AddRequires(a, b)
		}
	}
	return out
}

func link(index map[ResourceID]map[ResourceID]struct{}, from, to ResourceID) {
	set, ok := index[from]
	if !ok {
		set = make(map[ResourceID]struct{})
		index[from] = set
	}
	set[to] = struct{}{}
}

func unlink(index map[ResourceID]map[ResourceID]struct{}, from, to ResourceID) {
	set, ok := index[from]
	if !ok {
		return
	}
	delete(set, to)
	if len(set) == 0 {
		delete(index, from)
	}
}

func sortedSet(set map[ResourceID]struct{}) []ResourceID {
	if len(set) == 0 {
		return nil
	}
	out := make([]ResourceID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.SortFunc(out, compareIDs)
	return out
}
