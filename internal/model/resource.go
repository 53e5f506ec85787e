package model

import (
	"fmt"
	"slices"

	"github.com/roach88/rollout/internal/ir"
)

// ResourceDetails is one resource of one model version as produced by the
// compiler.
type ResourceDetails struct {
	ID            ResourceVersionID
	Attributes    ir.IRObject
	AttributeHash string
	Requires      []ResourceID

	// Unknowns lists attribute paths the compiler could not resolve. A
	// resource with unknowns is never dispatched.
	Unknowns []string
}

// NewResourceDetails builds a resource and computes its attribute hash.
func NewResourceDetails(id ResourceVersionID, attrs ir.IRObject, requires []ResourceID) (ResourceDetails, error) {
	if attrs == nil {
		attrs = ir.IRObject{}
	}
	hash, err := ir.AttributeHash(attrs)
	if err != nil {
		return ResourceDetails{}, fmt.Errorf("resource %s: %w", id, err)
	}
	return ResourceDetails{
		ID:            id,
		Attributes:    attrs,
		AttributeHash: hash,
		Requires:      slices.Clone(requires),
	}, nil
}

// HasUnknowns reports whether compilation left any attribute unresolved.
func (r ResourceDetails) HasUnknowns() bool {
	return len(r.Unknowns) > 0
}

// Type returns the entity type, which selects the handler code.
func (r ResourceDetails) Type() string {
	return r.ID.EntityType
}
