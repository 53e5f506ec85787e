package compiler

import (
	"fmt"

	"cuelang.org/go/cue/token"

	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/model"
)

// Document is one compiled desired-state version.
type Document struct {
	Source    string
	Version   int64
	Resources []ResourceSpec
}

// ResourceSpec is one resource as written in a document.
type ResourceSpec struct {
	ID         string
	Requires   []string
	Attributes ir.IRObject
	Unknowns   []string

	// Source position, for error messages.
	Line int
	Pos  token.Pos
}

// Details converts the document into resources of its version, computing
// attribute hashes. It fails on the first invalid id.
func (d *Document) Details() ([]model.ResourceDetails, error) {
	out := make([]model.ResourceDetails, 0, len(d.Resources))
	for _, spec := range d.Resources {
		id, err := model.ParseResourceID(spec.ID)
		if err != nil {
			return nil, d.errorAt(spec, "id", err.Error())
		}
		requires := make([]model.ResourceID, 0, len(spec.Requires))
		for _, req := range spec.Requires {
			rid, err := model.ParseResourceID(req)
			if err != nil {
				return nil, d.errorAt(spec, "requires", err.Error())
			}
			requires = append(requires, rid)
		}
		r, err := model.NewResourceDetails(id.AtVersion(d.Version), spec.Attributes, requires)
		if err != nil {
			return nil, d.errorAt(spec, "attributes", err.Error())
		}
		r.Unknowns = append([]string(nil), spec.Unknowns...)
		out = append(out, r)
	}
	return out, nil
}

// State validates the document and builds its model state.
func (d *Document) State() (*model.ModelState, error) {
	if errs := Validate(d); len(errs) > 0 {
		return nil, &ValidationErrors{Errors: errs}
	}
	resources, err := d.Details()
	if err != nil {
		return nil, err
	}
	ms, err := model.Build(d.Version, resources)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.Source, err)
	}
	return ms, nil
}

func (d *Document) errorAt(spec ResourceSpec, field, msg string) error {
	return &CompileError{
		Field:   field,
		Message: fmt.Sprintf("%s: %s", spec.ID, msg),
		Pos:     spec.Pos,
		File:    d.Source,
		Line:    spec.Line,
	}
}
