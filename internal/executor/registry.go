package executor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/rollout/internal/ir"
)

// Capability is a bit set of the operations a handler supports.
type Capability uint8

const (
	CapRead Capability = 1 << iota
	CapCreate
	CapUpdate
	CapDelete

	CapAll = CapRead | CapCreate | CapUpdate | CapDelete
)

// Has reports whether c includes every bit of want.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

func (c Capability) String() string {
	var parts []string
	for _, p := range []struct {
		bit  Capability
		name string
	}{{CapRead, "read"}, {CapCreate, "create"}, {CapUpdate, "update"}, {CapDelete, "delete"}} {
		if c.Has(p.bit) {
			parts = append(parts, p.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Resource is what a handler operates on: the id plus desired attributes
// without the worker's reserved keys.
type Resource struct {
	ID         string
	Type       string
	Attributes ir.IRObject
}

// Handler performs CRUD operations for one resource type.
type Handler interface {
	// Read returns the observed attributes and whether the resource exists.
	Read(ctx context.Context, r Resource) (ir.IRObject, bool, error)
	Create(ctx context.Context, r Resource) error
	Update(ctx context.Context, r Resource, changes ir.IRObject) error
	Delete(ctx context.Context, r Resource) error
}

// HandlerDescriptor binds a handler to the capabilities it declares.
type HandlerDescriptor struct {
	Capabilities Capability
	Handler      Handler
}

// ErrSkip is returned by a handler that cannot act on a resource now. The
// resource ends the pass as skipped rather than failed.
var ErrSkip = errors.New("resource skipped")

// Registry maps resource types to handler descriptors.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerDescriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerDescriptor)}
}

// Register adds a handler for typ. Registering a type twice is an error.
func (r *Registry) Register(typ string, desc HandlerDescriptor) error {
	if desc.Handler == nil {
		return fmt.Errorf("register %s: nil handler", typ)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[typ]; exists {
		return fmt.Errorf("register %s: already registered", typ)
	}
	r.handlers[typ] = desc
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(typ string, desc HandlerDescriptor) {
	if err := r.Register(typ, desc); err != nil {
		panic(err)
	}
}

// Lookup returns the descriptor for typ.
func (r *Registry) Lookup(typ string) (HandlerDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.handlers[typ]
	return desc, ok
}

// Resolve splits types into loaded descriptors and sorted failed types.
func (r *Registry) Resolve(types []string) (map[string]HandlerDescriptor, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	loaded := make(map[string]HandlerDescriptor, len(types))
	var failed []string
	for _, typ := range types {
		if desc, ok := r.handlers[typ]; ok {
			loaded[typ] = desc
		} else {
			failed = append(failed, typ)
		}
	}
	slices.Sort(failed)
	return loaded, slices.Compact(failed)
}

// Types returns the registered types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for typ := range r.handlers {
		out = append(out, typ)
	}
	slices.Sort(out)
	return out
}
