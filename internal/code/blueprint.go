// Package code resolves the handler code an executor needs.
//
// A Bundle groups resource types that share a runtime and a dependency set.
// Resolving a set of resource types yields one Blueprint per type plus the
// types for which no code could be resolved.
package code

import (
	"slices"

	"github.com/roach88/rollout/internal/ir"
)

// SourceFile is one file of a code bundle, identified by content hash.
type SourceFile struct {
	Name string `json:"name" yaml:"name"`
	Hash string `json:"hash" yaml:"hash"`
}

// Blueprint describes everything an executor must install to run handlers
// for a set of resource types. Two blueprints with equal Hash are
// interchangeable.
type Blueprint struct {
	Bundle       string       `json:"bundle"`
	Runtime      string       `json:"runtime"`
	Requirements []string     `json:"requirements,omitempty"`
	Sources      []SourceFile `json:"sources,omitempty"`
	Types        []string     `json:"types"`
}

// Normalize sorts every list so equal blueprints compare and hash equal.
func (b Blueprint) Normalize() Blueprint {
	out := b
	out.Requirements = sortedCopy(b.Requirements)
	out.Types = sortedCopy(b.Types)
	out.Sources = slices.Clone(b.Sources)
	slices.SortFunc(out.Sources, func(x, y SourceFile) int {
		if x.Name < y.Name {
			return -1
		}
		if x.Name > y.Name {
			return 1
		}
		return 0
	})
	return out
}

// Hash returns the content-addressed identity of the blueprint.
func (b Blueprint) Hash() string {
	n := b.Normalize()

	sources := make(ir.IRArray, len(n.Sources))
	for i, s := range n.Sources {
		sources[i] = ir.Obj(ir.O("name", ir.IRString(s.Name)), ir.O("hash", ir.IRString(s.Hash)))
	}
	obj := ir.Obj(
		ir.O("bundle", ir.IRString(n.Bundle)),
		ir.O("runtime", ir.IRString(n.Runtime)),
		ir.O("requirements", stringsArray(n.Requirements)),
		ir.O("sources", sources),
		ir.O("types", stringsArray(n.Types)),
	)
	// Only strings and arrays are involved, so hashing cannot fail.
	h, err := ir.ContentHash(ir.DomainBlueprint, obj)
	if err != nil {
		panic(err)
	}
	return h
}

// Covers reports whether the blueprint provides handlers for typ.
func (b Blueprint) Covers(typ string) bool {
	return slices.Contains(b.Types, typ)
}

func sortedCopy(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return out
}

func stringsArray(in []string) ir.IRArray {
	out := make(ir.IRArray, len(in))
	for i, s := range in {
		out[i] = ir.IRString(s)
	}
	return out
}
