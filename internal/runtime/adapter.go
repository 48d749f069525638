package runtime

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/user/liftcoach/internal/types"
)

// ServiceFactory opens a fresh service instance for a single tool call.
// release is called exactly once with the call's outcome so the factory can
// commit or roll back whatever scope it opened. An error from release fails
// a call that had otherwise succeeded.
type ServiceFactory[S any] func(ctx context.Context) (svc S, release func(err error) error, err error)

// Spec is a typed tool operation waiting to be registered through a Group.
type Spec[S any] struct {
	Name        string
	Description string

	params            []Parameter
	requiresPrincipal bool
	acceptsPrincipal  bool
	call              func(ctx context.Context, svc S, p *types.Principal, args []any) (any, error)
}

// RequirePrincipal marks the tool as callable only on behalf of a user. The
// principal is handed to the operation.
func (s Spec[S]) RequirePrincipal() Spec[S] {
	s.requiresPrincipal = true
	s.acceptsPrincipal = true
	return s
}

// AcceptPrincipal hands the principal, possibly nil, to the operation.
// Without it the operation always receives nil.
func (s Spec[S]) AcceptPrincipal() Spec[S] {
	s.acceptsPrincipal = true
	return s
}

// Arg declares a named flat parameter of type T.
type Arg[T any] struct {
	name       string
	def        T
	hasDefault bool
}

// NewArg declares a parameter bound from the JSON property name.
func NewArg[T any](name string) Arg[T] {
	return Arg[T]{name: name}
}

// WithDefault sets the value used when the property is missing or null.
func (a Arg[T]) WithDefault(v T) Arg[T] {
	a.def = v
	a.hasDefault = true
	return a
}

func (a Arg[T]) param() Parameter {
	p := Parameter{Name: a.name, Type: reflect.TypeFor[T]()}
	if a.hasDefault {
		p.Default = a.def
		p.HasDefault = true
	}
	return p
}

// NoArgs builds a tool without parameters.
func NoArgs[S, R any](name, description string, fn func(ctx context.Context, svc S, p *types.Principal) (R, error)) Spec[S] {
	return Spec[S]{
		Name:        name,
		Description: description,
		call: func(ctx context.Context, svc S, p *types.Principal, _ []any) (any, error) {
			return fn(ctx, svc, p)
		},
	}
}

// Object builds a tool whose whole argument body decodes into one value of
// type A.
func Object[S, A, R any](name, description string, fn func(ctx context.Context, svc S, p *types.Principal, args A) (R, error)) Spec[S] {
	return Spec[S]{
		Name:        name,
		Description: description,
		params:      []Parameter{NewArg[A]("args").param()},
		call: func(ctx context.Context, svc S, p *types.Principal, args []any) (any, error) {
			return fn(ctx, svc, p, as[A](args[0]))
		},
	}
}

// Flat1 builds a tool with a single named parameter.
func Flat1[S, A, R any](name, description string, a Arg[A], fn func(ctx context.Context, svc S, p *types.Principal, a A) (R, error)) Spec[S] {
	return Spec[S]{
		Name:        name,
		Description: description,
		params:      []Parameter{a.param()},
		call: func(ctx context.Context, svc S, p *types.Principal, args []any) (any, error) {
			return fn(ctx, svc, p, as[A](args[0]))
		},
	}
}

// Flat2 builds a tool with two named parameters.
func Flat2[S, A, B, R any](name, description string, a Arg[A], b Arg[B], fn func(ctx context.Context, svc S, p *types.Principal, a A, b B) (R, error)) Spec[S] {
	return Spec[S]{
		Name:        name,
		Description: description,
		params:      []Parameter{a.param(), b.param()},
		call: func(ctx context.Context, svc S, p *types.Principal, args []any) (any, error) {
			return fn(ctx, svc, p, as[A](args[0]), as[B](args[1]))
		},
	}
}

// Flat3 builds a tool with three named parameters.
func Flat3[S, A, B, C, R any](name, description string, a Arg[A], b Arg[B], c Arg[C], fn func(ctx context.Context, svc S, p *types.Principal, a A, b B, c C) (R, error)) Spec[S] {
	return Spec[S]{
		Name:        name,
		Description: description,
		params:      []Parameter{a.param(), b.param(), c.param()},
		call: func(ctx context.Context, svc S, p *types.Principal, args []any) (any, error) {
			return fn(ctx, svc, p, as[A](args[0]), as[B](args[1]), as[C](args[2]))
		},
	}
}

func as[T any](v any) T {
	if v == nil {
		var zero T
		return zero
	}
	return v.(T)
}

// Group registers the tools of one owning service.
type Group[S any] struct {
	owner    string
	registry *Registry
	factory  ServiceFactory[S]
}

// NewGroup binds tools registered through it to owner and its factory.
func NewGroup[S any](registry *Registry, owner string, factory ServiceFactory[S]) *Group[S] {
	return &Group[S]{owner: owner, registry: registry, factory: factory}
}

// Register builds a descriptor per spec and adds it to the registry. All
// specs are attempted; the returned error joins every failure.
func (g *Group[S]) Register(specs ...Spec[S]) error {
	var errs []error
	for _, spec := range specs {
		if err := g.register(spec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (g *Group[S]) register(spec Spec[S]) error {
	if g.factory == nil {
		return &ConfigurationError{Tool: spec.Name, Reason: fmt.Sprintf("group %q has no service factory", g.owner)}
	}
	if spec.call == nil {
		return &ConfigurationError{Tool: spec.Name, Reason: "spec was not built with a tool constructor"}
	}
	seen := make(map[string]bool, len(spec.params))
	for _, p := range spec.params {
		if p.Name == "" || seen[p.Name] {
			return &ConfigurationError{Tool: spec.Name, Reason: fmt.Sprintf("invalid or duplicate parameter name %q", p.Name)}
		}
		seen[p.Name] = true
	}

	schema, validator, err := GenerateSchema(spec.Name, spec.params)
	if err != nil {
		return &ConfigurationError{Tool: spec.Name, Reason: "unschematizable parameters", Err: err}
	}

	factory := g.factory
	call := spec.call
	return g.registry.Register(&Descriptor{
		Name:              spec.Name,
		Description:       spec.Description,
		Owner:             g.owner,
		Params:            spec.params,
		Schema:            schema,
		RequiresPrincipal: spec.requiresPrincipal,
		AcceptsPrincipal:  spec.acceptsPrincipal,
		validator:         validator,
		open: func(ctx context.Context) (any, func(error) error, error) {
			svc, release, err := factory(ctx)
			return svc, release, err
		},
		call: func(ctx context.Context, svc any, p *types.Principal, args []any) (any, error) {
			s, ok := svc.(S)
			if !ok {
				return nil, fmt.Errorf("service is %T, not %s", svc, reflect.TypeFor[S]())
			}
			return call(ctx, s, p, args)
		},
	})
}
