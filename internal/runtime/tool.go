package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/user/liftcoach/internal/types"
	"github.com/user/liftcoach/pkg/llm"
)

// Parameter is one bindable argument of a tool operation.
type Parameter struct {
	Name       string
	Type       reflect.Type
	Default    any
	HasDefault bool
}

// Descriptor is a registered tool: its published definition plus the typed
// adapter that runs it.
type Descriptor struct {
	Name              string
	Description       string
	Owner             string
	Params            []Parameter
	Schema            json.RawMessage
	RequiresPrincipal bool
	AcceptsPrincipal  bool

	validator *jsonschema.Schema
	open      func(ctx context.Context) (svc any, release func(error) error, err error)
	call      func(ctx context.Context, svc any, p *types.Principal, args []any) (any, error)
}

// Definition is the tool as advertised to the model.
func (d *Descriptor) Definition() llm.Tool {
	return llm.Tool{
		Type: "function",
		Function: llm.Function{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Schema,
		},
	}
}

// AllowList narrows which tools a request may see and call. A nil AllowList
// permits every tool.
type AllowList map[string]struct{}

// NewAllowList returns an AllowList of the given names.
func NewAllowList(names ...string) AllowList {
	a := make(AllowList, len(names))
	for _, n := range names {
		a[n] = struct{}{}
	}
	return a
}

// Permits reports whether name may be used.
func (a AllowList) Permits(name string) bool {
	if a == nil {
		return true
	}
	_, ok := a[name]
	return ok
}

// Registry holds registered tools and provides lookup. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Descriptor
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Descriptor)}
}

// Register adds a descriptor. Duplicate names and incomplete descriptors are
// configuration errors.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil || d.Name == "" {
		return &ConfigurationError{Reason: "missing name"}
	}
	if d.call == nil || d.open == nil {
		return &ConfigurationError{Tool: d.Name, Reason: "missing operation or service factory"}
	}
	if d.validator == nil {
		return &ConfigurationError{Tool: d.Name, Reason: "missing compiled schema"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.tools[d.Name]; ok {
		return &ConfigurationError{Tool: d.Name, Reason: fmt.Sprintf("already registered by %q", existing.Owner)}
	}
	r.tools[d.Name] = d
	return nil
}

// Resolve returns a tool by name.
func (r *Registry) Resolve(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	return d, nil
}

// All returns all registered tools sorted by name.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	out := make([]*Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the sorted names of the tools allow permits.
func (r *Registry) Names(allow AllowList) []string {
	var out []string
	for _, d := range r.All() {
		if allow.Permits(d.Name) {
			out = append(out, d.Name)
		}
	}
	return out
}

// Definitions converts the permitted tools to the LLM provider format,
// sorted by name.
func (r *Registry) Definitions(allow AllowList) []llm.Tool {
	var out []llm.Tool
	for _, d := range r.All() {
		if allow.Permits(d.Name) {
			out = append(out, d.Definition())
		}
	}
	return out
}
