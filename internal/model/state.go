package model

import (
	"slices"
)

// ModelState is one version's full resource set and its dependency mapping.
// It is immutable once built; callers must not mutate the returned slices.
type ModelState struct {
	Version   int64
	resources map[ResourceID]ResourceDetails
	order     []ResourceID
	mapping   *RequiresProvidesMapping
}

// Build constructs the model state for one version.
//
// Every resource must carry the given version, ids must be unique, and every
// requires edge must point at a resource of the same version.
func Build(version int64, resources []ResourceDetails) (*ModelState, error) {
	ms := &ModelState{
		Version:   version,
		resources: make(map[ResourceID]ResourceDetails, len(resources)),
		order:     make([]ResourceID, 0, len(resources)),
		mapping:   NewMapping(),
	}

	for _, r := range resources {
		if r.ID.IsZero() {
			return nil, invalidf("resource with empty id in version %d", version)
		}
		if r.ID.Version != version {
			return nil, invalidf("resource %s does not belong to version %d", r.ID, version)
		}
		if _, dup := ms.resources[r.ID.ResourceID]; dup {
			return nil, invalidf("duplicate resource %s", r.ID.ResourceID)
		}
		ms.resources[r.ID.ResourceID] = r
		ms.order = append(ms.order, r.ID.ResourceID)
	}

	for _, id := range ms.order {
		r := ms.resources[id]
		for _, dep := range r.Requires {
			if _, ok := ms.resources[dep]; !ok {
				return nil, danglingf("%s requires %s, which is not part of version %d", id, dep, version)
			}
			if dep == id {
				return nil, invalidf("%s requires itself", id)
			}
			ms.mapping.AddRequires(id, dep)
		}
	}

	return ms, nil
}

// Len returns the number of resources.
func (ms *ModelState) Len() int {
	return len(ms.order)
}

// Resource returns the resource with the given id.
func (ms *ModelState) Resource(id ResourceID) (ResourceDetails, bool) {
	r, ok := ms.resources[id]
	return r, ok
}

// IDs returns resource ids in input order.
func (ms *ModelState) IDs() []ResourceID {
	return slices.Clone(ms.order)
}

// Resources returns all resources in input order.
func (ms *ModelState) Resources() []ResourceDetails {
	out := make([]ResourceDetails, 0, len(ms.order))
	for _, id := range ms.order {
		out = append(out, ms.resources[id])
	}
	return out
}

// RequiresOf returns the resources id depends on.
func (ms *ModelState) RequiresOf(id ResourceID) []ResourceID {
	return ms.mapping.RequiresOf(id)
}

// ProvidesOf returns the resources that depend on id.
func (ms *ModelState) ProvidesOf(id ResourceID) []ResourceID {
	return ms.mapping.ProvidesOf(id)
}

// Delta is the per-resource difference between two model versions.
type Delta struct {
	New       []ResourceID
	Removed   []ResourceID
	Changed   []ResourceID
	Unchanged []ResourceID
}

// Empty reports whether the delta carries no change.
func (d Delta) Empty() bool {
	return len(d.New) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Diff compares two model states by resource id and attribute hash. A nil
// old state treats every resource of next as new.
func Diff(old, next *ModelState) Delta {
	var d Delta
	if next == nil {
		return d
	}
	for _, id := range next.order {
		r := next.resources[id]
		if old == nil {
			d.New = append(d.New, id)
			continue
		}
		prev, ok := old.resources[id]
		switch {
		case !ok:
			d.New = append(d.New, id)
		case prev.AttributeHash != r.AttributeHash:
			d.Changed = append(d.Changed, id)
		default:
			d.Unchanged = append(d.Unchanged, id)
		}
	}
	if old != nil {
		for _, id := range old.order {
			if _, ok := next.resources[id]; !ok {
				d.Removed = append(d.Removed, id)
			}
		}
	}
	return d
}
