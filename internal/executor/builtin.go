package executor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/roach88/rollout/internal/ir"
)

// Builtin resource types compiled into every executor.
const (
	TypeFile      = "std::File"
	TypeDirectory = "std::Directory"
)

// Builtins returns a registry holding the builtin handlers.
func Builtins() *Registry {
	r := NewRegistry()
	r.MustRegister(TypeFile, HandlerDescriptor{Capabilities: CapAll, Handler: fileHandler{}})
	r.MustRegister(TypeDirectory, HandlerDescriptor{Capabilities: CapAll, Handler: directoryHandler{}})
	return r
}

func stringAttr(r Resource, key string) (string, error) {
	v, ok := r.Attributes[key].(ir.IRString)
	if !ok || v == "" {
		return "", fmt.Errorf("%s: attribute %q must be a non-empty string", r.ID, key)
	}
	return string(v), nil
}

func modeAttr(r Resource, def fs.FileMode) fs.FileMode {
	if v, ok := r.Attributes["mode"].(ir.IRInt); ok {
		return fs.FileMode(v).Perm()
	}
	return def
}

// fileHandler manages a regular file: path, content, mode.
type fileHandler struct{}

func (fileHandler) Read(_ context.Context, r Resource) (ir.IRObject, bool, error) {
	path, err := stringAttr(r, "path")
	if err != nil {
		return nil, false, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !info.Mode().IsRegular() {
		return nil, false, fmt.Errorf("%s: %s is not a regular file", r.ID, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	return ir.Obj(
		ir.O("path", ir.IRString(path)),
		ir.O("content", ir.IRString(data)),
		ir.O("mode", ir.IRInt(info.Mode().Perm())),
	), true, nil
}

func (h fileHandler) Create(ctx context.Context, r Resource) error {
	return h.write(r)
}

func (h fileHandler) Update(ctx context.Context, r Resource, _ ir.IRObject) error {
	return h.write(r)
}

func (fileHandler) write(r Resource) error {
	path, err := stringAttr(r, "path")
	if err != nil {
		return err
	}
	content, _ := r.Attributes["content"].(ir.IRString)
	mode := modeAttr(r, 0o644)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return err
	}
	// WriteFile leaves the mode of an existing file untouched.
	return os.Chmod(path, mode)
}

func (fileHandler) Delete(_ context.Context, r Resource) error {
	path, err := stringAttr(r, "path")
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// directoryHandler manages a directory: path, mode.
type directoryHandler struct{}

func (directoryHandler) Read(_ context.Context, r Resource) (ir.IRObject, bool, error) {
	path, err := stringAttr(r, "path")
	if err != nil {
		return nil, false, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !info.IsDir() {
		return nil, false, fmt.Errorf("%s: %s is not a directory", r.ID, path)
	}
	return ir.Obj(
		ir.O("path", ir.IRString(path)),
		ir.O("mode", ir.IRInt(info.Mode().Perm())),
	), true, nil
}

func (directoryHandler) Create(_ context.Context, r Resource) error {
	path, err := stringAttr(r, "path")
	if err != nil {
		return err
	}
	mode := modeAttr(r, 0o755)
	if err := os.MkdirAll(path, mode); err != nil {
		return err
	}
	return os.Chmod(path, mode)
}

func (directoryHandler) Update(_ context.Context, r Resource, _ ir.IRObject) error {
	path, err := stringAttr(r, "path")
	if err != nil {
		return err
	}
	return os.Chmod(path, modeAttr(r, 0o755))
}

func (directoryHandler) Delete(_ context.Context, r Resource) error {
	path, err := stringAttr(r, "path")
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
