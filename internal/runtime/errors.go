package runtime

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/user/liftcoach/pkg/llm"
)

var (
	ErrToolNotFound  = errors.New("tool not found")
	ErrLength        = errors.New("model stopped at the output token limit")
	ErrContentFilter = errors.New("model output was filtered")
	ErrUnknownFinish = errors.New("unrecognized finish reason")
	ErrNoToolCalls   = errors.New("finish reason tool_calls without tool calls")
	ErrMaxRounds     = errors.New("max tool rounds exceeded")
)

// ConfigurationError is a registration mistake caught at startup.
type ConfigurationError struct {
	Tool   string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("tool %q: %s", e.Tool, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// BindingError reports model-authored arguments that could not be bound.
// Param is empty when the failure concerns the body as a whole.
type BindingError struct {
	Param  string
	Reason string
	Err    error
}

func (e *BindingError) Error() string {
	msg := e.Reason
	if e.Param != "" {
		msg = fmt.Sprintf("argument %q: %s", e.Param, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BindingError) Unwrap() error { return e.Err }

// CompletionError aborts a whole completion request.
type CompletionError struct {
	FinishReason llm.FinishReason
	Round        int
	Err          error
}

func (e *CompletionError) Error() string {
	if e.FinishReason != "" {
		return fmt.Sprintf("completion failed in round %d (finish reason %q): %v", e.Round, e.FinishReason, e.Err)
	}
	return fmt.Sprintf("completion failed in round %d: %v", e.Round, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// ReleaseError means a tool's work could not be made durable after the call
// itself returned, such as a failed commit.
type ReleaseError struct {
	Err error
}

func (e *ReleaseError) Error() string { return "release tool scope: " + e.Err.Error() }

func (e *ReleaseError) Unwrap() error { return e.Err }

// Labeler lets an error choose the label shown to the model in place of its
// message.
type Labeler interface {
	Label() string
}

// PanicError carries a value recovered from a panicking tool.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

func (e *PanicError) Label() string { return "Panic" }

// FaultLabel reduces err to a short type label that is safe to show the model.
// Error text never leaks through it.
func FaultLabel(err error) string {
	var l Labeler
	if errors.As(err, &l) {
		return l.Label()
	}
	if errors.Is(err, context.Canceled) {
		return "Canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "DeadlineExceeded"
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if name := typeName(e); name != "" {
			return name
		}
	}
	return "ExecutionError"
}

// typeName returns the error's Go type name, or "" for the anonymous
// wrappers produced by errors.New and fmt.Errorf.
func typeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Name() {
	case "", "errorString", "wrapError", "wrapErrors", "joinError":
		return ""
	}
	return t.Name()
}
