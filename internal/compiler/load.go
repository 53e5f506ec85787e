package compiler

import (
	"fmt"
	"os"
	"path/filepath"
)

// Load compiles the document at path: a directory or .cue file is loaded as
// a CUE package, a .yaml or .yml file as YAML.
func Load(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	if info.IsDir() {
		return LoadCUE(path)
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return LoadYAMLFile(path)
	case ".cue":
		return LoadCUE(filepath.Dir(path))
	}
	return nil, fmt.Errorf("load model: unsupported file type %q", filepath.Ext(path))
}

// LoadVersion compiles the document at path. A non-zero version overrides
// the version written in the document.
func LoadVersion(path string, version int64) (*Document, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	if version > 0 {
		doc.Version = version
	}
	return doc, nil
}
