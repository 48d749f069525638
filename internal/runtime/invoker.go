package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	schemavalidator "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/user/liftcoach/internal/types"
)

// Status classifies the outcome of one tool call.
type Status string

const (
	StatusOK           Status = "ok"
	StatusInvalid      Status = "invalid"
	StatusForbidden    Status = "forbidden"
	StatusNotFound     Status = "not_found"
	StatusUnauthorized Status = "unauthorized"
	StatusError        Status = "error"
)

// ToolCallResult is the JSON content fed back to the model for one call.
type ToolCallResult struct {
	CallID  string
	Name    string
	Status  Status
	Content string
	Tokens  int
}

// OK reports whether the call succeeded.
func (r ToolCallResult) OK() bool { return r.Status == StatusOK }

// Message converts the result into a tool message answering its call.
func (r ToolCallResult) Message() types.Message {
	m := types.NewToolMessage(r.CallID, r.Content)
	m.TokenCount = r.Tokens
	return m
}

// Awaitable is a pending tool result. The invoker awaits it before
// serializing.
type Awaitable interface {
	Await(ctx context.Context) (any, error)
}

// Validator is implemented by argument types with rules beyond their schema.
type Validator interface {
	Validate() error
}

// Invoker runs single tool calls against the registry.
type Invoker struct {
	registry *Registry
	count    func(string) int
}

// NewInvoker creates an invoker. count estimates tokens for result content;
// nil falls back to a length heuristic.
func NewInvoker(registry *Registry, count func(string) int) *Invoker {
	if count == nil {
		count = func(s string) int { return (len(s) + 3) / 4 }
	}
	return &Invoker{registry: registry, count: count}
}

// Invoke resolves, authorizes, binds, validates and runs one tool call. It
// never returns an error: every failure becomes a result with an error
// envelope.
func (inv *Invoker) Invoke(ctx context.Context, call types.ToolCall, principal *types.Principal, allow AllowList) ToolCallResult {
	if call.ID == "" || call.Name == "" {
		return inv.fail(call, StatusInvalid, "invalid tool call: missing id or name")
	}
	if !allow.Permits(call.Name) {
		return inv.fail(call, StatusForbidden, fmt.Sprintf("tool %q is not allowed here", call.Name))
	}
	d, err := inv.registry.Resolve(call.Name)
	if err != nil {
		return inv.fail(call, StatusNotFound, fmt.Sprintf("unknown tool %q", call.Name))
	}
	if d.RequiresPrincipal && principal == nil {
		return inv.fail(call, StatusUnauthorized, fmt.Sprintf("tool %q requires a signed-in user", call.Name))
	}
	if !d.AcceptsPrincipal {
		principal = nil
	}

	svc, release, err := d.open(ctx)
	if err != nil {
		slog.Warn("tool service unavailable", "tool", call.Name, "error", err)
		return inv.fail(call, StatusError, FaultLabel(err))
	}
	status, content := inv.run(ctx, d, svc, release, call, principal)
	return inv.result(call, status, content)
}

// run executes steps that touch the service. release sees the first failure,
// including a recovered panic. A call that succeeded but could not be
// released reports an error instead of its value.
func (inv *Invoker) run(ctx context.Context, d *Descriptor, svc any, release func(error) error, call types.ToolCall, principal *types.Principal) (status Status, content string) {
	var callErr error
	defer func() {
		if r := recover(); r != nil {
			callErr = &PanicError{Value: r}
			slog.Error("tool panicked", "tool", call.Name, "call_id", call.ID, "panic", r)
			status, content = StatusError, errorEnvelope(FaultLabel(callErr))
		}
		if release == nil {
			return
		}
		if err := release(callErr); err != nil {
			slog.Error("tool release failed", "tool", call.Name, "call_id", call.ID, "error", err)
			if callErr == nil {
				status, content = StatusError, errorEnvelope(FaultLabel(&ReleaseError{Err: err}))
			}
		}
	}()

	args, err := Bind(d.Params, []byte(call.Arguments))
	if err != nil {
		callErr = err
		return StatusInvalid, errorEnvelope("invalid arguments: " + err.Error())
	}
	if err := validateArgs(d, args); err != nil {
		callErr = err
		return StatusInvalid, errorEnvelope("invalid arguments: " + err.Error())
	}

	value, err := d.call(ctx, svc, principal, args)
	if err == nil {
		if pending, ok := value.(Awaitable); ok {
			value, err = pending.Await(ctx)
		}
	}
	if err != nil {
		callErr = err
		slog.Info("tool call failed", "tool", call.Name, "call_id", call.ID, "error", err)
		return StatusError, errorEnvelope(FaultLabel(err))
	}

	data, err := json.Marshal(value)
	if err != nil {
		callErr = err
		return StatusError, errorEnvelope(FaultLabel(err))
	}
	return StatusOK, string(data)
}

// validateArgs re-encodes the bound arguments and checks them against the
// compiled schema, then runs any Validate methods. All violations are
// reported together.
func validateArgs(d *Descriptor, args []any) error {
	var doc any
	switch {
	case len(d.Params) == 0:
		doc = map[string]any{}
	case len(d.Params) == 1 && isComposite(d.Params[0].Type):
		doc = args[0]
	default:
		m := make(map[string]any, len(args))
		for i, p := range d.Params {
			if args[i] == nil || isNilValue(args[i]) {
				continue
			}
			m[p.Name] = args[i]
		}
		doc = m
	}

	var problems []string
	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	var generic any
	if err := json.Unmarshal(encoded, &generic); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	if err := d.validator.Validate(generic); err != nil {
		var ve *schemavalidator.ValidationError
		if errors.As(err, &ve) {
			problems = append(problems, violations(ve)...)
		} else {
			problems = append(problems, err.Error())
		}
	}
	for _, a := range args {
		if v, ok := asValidator(a); ok {
			if err := v.Validate(); err != nil {
				problems = append(problems, err.Error())
			}
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// asValidator also finds Validate methods declared on the pointer receiver.
func asValidator(a any) (Validator, bool) {
	if v, ok := a.(Validator); ok {
		return v, true
	}
	rv := reflect.ValueOf(a)
	if !rv.IsValid() {
		return nil, false
	}
	ptr := reflect.New(rv.Type())
	ptr.Elem().Set(rv)
	v, ok := ptr.Interface().(Validator)
	return v, ok
}

func isNilValue(v any) bool {
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func (inv *Invoker) fail(call types.ToolCall, status Status, msg string) ToolCallResult {
	return inv.result(call, status, errorEnvelope(msg))
}

func (inv *Invoker) result(call types.ToolCall, status Status, content string) ToolCallResult {
	return ToolCallResult{
		CallID:  call.ID,
		Name:    call.Name,
		Status:  status,
		Content: content,
		Tokens:  inv.count(content),
	}
}

func errorEnvelope(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}

// Future is an Awaitable computed on its own goroutine.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Async starts fn and returns a Future for its result.
func Async[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = &PanicError{Value: r}
			}
		}()
		f.value, f.err = fn(ctx)
	}()
	return f
}

// Await blocks until the result is ready or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.done:
		if f.err != nil {
			return nil, f.err
		}
		return f.value, nil
	}
}
