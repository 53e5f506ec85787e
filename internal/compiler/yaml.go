package compiler

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rollout/internal/ir"
)

// TagUnknown marks a YAML value the producer could not resolve.
const TagUnknown = "!unknown"

// LoadYAMLFile reads and compiles a YAML document.
func LoadYAMLFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return LoadYAML(path, data)
}

// LoadYAML compiles a YAML document. source names it in errors.
func LoadYAML(source string, data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &CompileError{Field: "yaml", Message: err.Error(), File: source}
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, &CompileError{Field: "yaml", Message: "empty document", File: source}
	}

	y := &yamlCompiler{source: source}
	return y.document(root.Content[0])
}

type yamlCompiler struct {
	source string
}

func (y *yamlCompiler) errorf(n *yaml.Node, field, format string, args ...any) error {
	return &CompileError{Field: field, Message: fmt.Sprintf(format, args...), File: y.source, Line: n.Line}
}

func (y *yamlCompiler) document(n *yaml.Node) (*Document, error) {
	if n.Kind != yaml.MappingNode {
		return nil, y.errorf(n, "document", "expected a mapping")
	}
	doc := &Document{Source: y.source}

	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		switch key.Value {
		case "version":
			if err := val.Decode(&doc.Version); err != nil {
				return nil, y.errorf(val, "version", "expected an integer")
			}
		case "resources":
			if val.Kind != yaml.MappingNode {
				return nil, y.errorf(val, "resources", "expected a mapping of resource id to resource")
			}
			for j := 0; j+1 < len(val.Content); j += 2 {
				spec, err := y.resource(val.Content[j], val.Content[j+1])
				if err != nil {
					return nil, err
				}
				doc.Resources = append(doc.Resources, spec)
			}
		default:
			return nil, y.errorf(key, key.Value, "unknown top-level field")
		}
	}
	return doc, nil
}

func (y *yamlCompiler) resource(key, n *yaml.Node) (ResourceSpec, error) {
	spec := ResourceSpec{ID: key.Value, Line: key.Line, Attributes: ir.IRObject{}}
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		return spec, nil
	}
	if n.Kind != yaml.MappingNode {
		return spec, y.errorf(n, spec.ID, "expected a mapping")
	}

	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		switch k.Value {
		case "requires":
			if err := v.Decode(&spec.Requires); err != nil {
				return spec, y.errorf(v, spec.ID+".requires", "expected a list of resource ids")
			}
		case "attributes":
			if v.Kind != yaml.MappingNode {
				return spec, y.errorf(v, spec.ID+".attributes", "expected a mapping")
			}
			val, err := y.value(v, "", &spec.Unknowns)
			if err != nil {
				return spec, err
			}
			spec.Attributes = val.(ir.IRObject)
		default:
			return spec, y.errorf(k, spec.ID+"."+k.Value, "unknown resource field")
		}
	}
	return spec, nil
}

// value converts a YAML node into an IR value. Unknown values become null
// and their path is appended to unknowns.
func (y *yamlCompiler) value(n *yaml.Node, path string, unknowns *[]string) (ir.IRValue, error) {
	if n.Tag == TagUnknown {
		*unknowns = append(*unknowns, path)
		return ir.IRNull{}, nil
	}

	switch n.Kind {
	case yaml.AliasNode:
		return y.value(n.Alias, path, unknowns)

	case yaml.MappingNode:
		obj := make(ir.IRObject, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k := n.Content[i]
			if k.Kind != yaml.ScalarNode {
				return nil, y.errorf(k, path, "object keys must be strings")
			}
			child, err := y.value(n.Content[i+1], joinPath(path, k.Value), unknowns)
			if err != nil {
				return nil, err
			}
			obj[k.Value] = child
		}
		return obj, nil

	case yaml.SequenceNode:
		arr := make(ir.IRArray, 0, len(n.Content))
		for i, item := range n.Content {
			child, err := y.value(item, path+"["+strconv.Itoa(i)+"]", unknowns)
			if err != nil {
				return nil, err
			}
			arr = append(arr, child)
		}
		return arr, nil

	case yaml.ScalarNode:
		switch n.Tag {
		case "!!str":
			return ir.IRString(n.Value), nil
		case "!!int":
			var i int64
			if err := n.Decode(&i); err != nil {
				return nil, y.errorf(n, path, "integer out of range: %s", n.Value)
			}
			return ir.IRInt(i), nil
		case "!!bool":
			var b bool
			if err := n.Decode(&b); err != nil {
				return nil, y.errorf(n, path, "invalid boolean: %s", n.Value)
			}
			return ir.IRBool(b), nil
		case "!!null":
			return ir.IRNull{}, nil
		case "!!float":
			return nil, y.errorf(n, path, "floats are forbidden, use an integer or a string")
		}
		return nil, y.errorf(n, path, "unsupported tag %s", n.Tag)
	}
	return nil, y.errorf(n, path, "unsupported YAML node")
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}
