package compiler

import (
	"fmt"
	"os"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/rollout/internal/ir"
)

// LoadCUE loads the CUE package in dir and compiles it.
// Uses the CUE SDK's Go API directly (not a CLI subprocess).
func LoadCUE(dir string) (*Document, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("load model: not a directory: %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &CompileError{Field: "cue", Message: "no CUE instances loaded", File: dir}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}

	value := ctx.BuildInstance(inst)
	return CompileValue(dir, value)
}

// LoadCUEString compiles CUE source text.
func LoadCUEString(source, src string) (*Document, error) {
	ctx := cuecontext.New()
	return CompileValue(source, ctx.CompileString(src, cue.Filename(source)))
}

// CompileValue compiles a built CUE value into a Document.
func CompileValue(source string, v cue.Value) (*Document, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	doc := &Document{Source: source}

	versionVal := v.LookupPath(cue.ParsePath("version"))
	if !versionVal.Exists() {
		return nil, &CompileError{Field: "version", Message: "version is required", Pos: v.Pos()}
	}
	version, err := versionVal.Int64()
	if err != nil {
		return nil, formatCUEError(err)
	}
	doc.Version = version

	resourcesVal := v.LookupPath(cue.ParsePath("resources"))
	if !resourcesVal.Exists() {
		return doc, nil
	}
	iter, err := resourcesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		spec, err := compileResource(iter.Selector().Unquoted(), iter.Value())
		if err != nil {
			return nil, err
		}
		doc.Resources = append(doc.Resources, spec)
	}
	return doc, nil
}

func compileResource(id string, v cue.Value) (ResourceSpec, error) {
	spec := ResourceSpec{ID: id, Pos: v.Pos(), Attributes: ir.IRObject{}}

	reqVal := v.LookupPath(cue.ParsePath("requires"))
	if reqVal.Exists() {
		list, err := reqVal.List()
		if err != nil {
			return spec, formatCUEError(err)
		}
		for list.Next() {
			s, err := list.Value().String()
			if err != nil {
				return spec, &CompileError{
					Field:   id + ".requires",
					Message: "expected a list of resource ids",
					Pos:     list.Value().Pos(),
				}
			}
			spec.Requires = append(spec.Requires, s)
		}
	}

	attrVal := v.LookupPath(cue.ParsePath("attributes"))
	if attrVal.Exists() {
		val, err := cueValue(attrVal, "", &spec.Unknowns)
		if err != nil {
			return spec, err
		}
		obj, ok := val.(ir.IRObject)
		if !ok {
			return spec, &CompileError{Field: id + ".attributes", Message: "expected a struct", Pos: attrVal.Pos()}
		}
		spec.Attributes = obj
	}
	return spec, nil
}

// cueValue converts a CUE value into an IR value. A value that is not
// concrete becomes null and its path is appended to unknowns.
func cueValue(v cue.Value, path string, unknowns *[]string) (ir.IRValue, error) {
	if d, ok := v.Default(); ok {
		v = d
	}
	switch v.IncompleteKind() {
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.IRObject{}
		for iter.Next() {
			key := iter.Selector().Unquoted()
			child, err := cueValue(iter.Value(), joinPath(path, key), unknowns)
			if err != nil {
				return nil, err
			}
			obj[key] = child
		}
		return obj, nil

	case cue.ListKind:
		if !v.IsConcrete() {
			*unknowns = append(*unknowns, path)
			return ir.IRNull{}, nil
		}
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.IRArray{}
		for i := 0; iter.Next(); i++ {
			child, err := cueValue(iter.Value(), path+"["+strconv.Itoa(i)+"]", unknowns)
			if err != nil {
				return nil, err
			}
			arr = append(arr, child)
		}
		return arr, nil
	}

	if !v.IsConcrete() {
		if k := v.IncompleteKind(); k == cue.FloatKind {
			return nil, &CompileError{Field: path, Message: "float types are forbidden, use int instead", Pos: v.Pos()}
		}
		*unknowns = append(*unknowns, path)
		return ir.IRNull{}, nil
	}

	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(s), nil
	case cue.IntKind:
		i, err := v.Int64()
		if err != nil {
			return nil, &CompileError{Field: path, Message: err.Error(), Pos: v.Pos()}
		}
		return ir.IRInt(i), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil
	case cue.NullKind:
		return ir.IRNull{}, nil
	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{Field: path, Message: "float types are forbidden, use int instead", Pos: v.Pos()}
	}
	return nil, &CompileError{
		Field:   path,
		Message: fmt.Sprintf("unsupported kind: %v", v.Kind()),
		Pos:     v.Pos(),
	}
}
