package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	ctxengine "github.com/user/liftcoach/internal/context"
	"github.com/user/liftcoach/internal/observability"
	"github.com/user/liftcoach/internal/retry"
	"github.com/user/liftcoach/internal/types"
	"github.com/user/liftcoach/pkg/llm"
)

// Options tune the completion loop. Zero values select defaults.
type Options struct {
	MaxRounds       int
	ToolConcurrency int
	Retry           *retry.Policy
	Metrics         *observability.Metrics
	Tracer          *observability.Tracer
}

// Runtime implements the tool-calling completion loop.
type Runtime struct {
	provider llm.Provider
	engine   *ctxengine.Engine
	registry *Registry
	invoker  *Invoker
	opts     Options
}

// New creates a Runtime with the given dependencies.
func New(provider llm.Provider, engine *ctxengine.Engine, registry *Registry, opts Options) *Runtime {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = 10
	}
	if opts.ToolConcurrency <= 0 {
		opts.ToolConcurrency = 1
	}
	if opts.Retry == nil {
		opts.Retry = retry.Default()
	}
	return &Runtime{
		provider: provider,
		engine:   engine,
		registry: registry,
		invoker:  NewInvoker(registry, engine.Count),
		opts:     opts,
	}
}

// Registry returns the tool catalog the runtime advertises.
func (rt *Runtime) Registry() *Registry { return rt.registry }

// Engine returns the context engine.
func (rt *Runtime) Engine() *ctxengine.Engine { return rt.engine }

// Request is one completion over a stored conversation.
type Request struct {
	Conversation *types.Conversation
	Principal    *types.Principal
	Allow        AllowList
}

// Outcome holds every message the loop produced, in order. Final is set only
// when the loop ended with a final model message.
type Outcome struct {
	Messages []types.Message
	Final    *types.Message
	Rounds   int
}

// Complete runs model rounds until the model stops or a fatal condition is
// hit. The returned Outcome is never nil, so produced messages can be
// persisted even alongside an error.
func (rt *Runtime) Complete(ctx context.Context, req Request) (*Outcome, error) {
	ctx, span := rt.opts.Tracer.Start(ctx, "completion",
		attribute.String("conversation_id", string(req.Conversation.ID)))
	defer span.End()

	out := &Outcome{}
	err := rt.complete(ctx, req, out)
	if err != nil {
		observability.RecordError(span, err)
	}
	span.SetAttributes(attribute.Int("rounds", out.Rounds))
	rt.opts.Metrics.ObserveCompletion(err, out.Rounds)
	return out, err
}

func (rt *Runtime) complete(ctx context.Context, req Request, out *Outcome) error {
	window, err := ctxengine.Assemble(req.Conversation, rt.engine.Budget())
	if err != nil {
		return &CompletionError{Err: err}
	}
	working := ctxengine.ToLLM(window)
	tools := rt.registry.Definitions(req.Allow)

	produce := func(m types.Message) {
		m.ConversationID = req.Conversation.ID
		out.Messages = append(out.Messages, m)
		working = append(working, ctxengine.ToLLM([]types.Message{m})...)
	}

	for round := 1; ; round++ {
		if round > rt.opts.MaxRounds {
			return &CompletionError{Round: round - 1, Err: fmt.Errorf("%w (%d)", ErrMaxRounds, rt.opts.MaxRounds)}
		}
		out.Rounds = round

		resp, err := rt.callModel(ctx, working, tools)
		if err != nil {
			return &CompletionError{Round: round, Err: fmt.Errorf("model call: %w", err)}
		}

		switch resp.FinishReason {
		case llm.FinishStop:
			final := types.NewAssistantMessage(resp.Content, nil)
			rt.engine.Stamp(&final)
			produce(final)
			last := out.Messages[len(out.Messages)-1]
			out.Final = &last
			return nil

		case llm.FinishToolCalls:
			if len(resp.ToolCalls) == 0 {
				return &CompletionError{FinishReason: resp.FinishReason, Round: round, Err: ErrNoToolCalls}
			}
			calls := make([]types.ToolCall, len(resp.ToolCalls))
			for i, tc := range resp.ToolCalls {
				calls[i] = types.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
			}
			assistant := types.NewAssistantMessage(resp.Content, calls)
			rt.engine.Stamp(&assistant)
			produce(assistant)

			for _, result := range rt.executeCalls(ctx, calls, req.Principal, req.Allow) {
				produce(result.Message())
			}
			if err := ctx.Err(); err != nil {
				return &CompletionError{FinishReason: resp.FinishReason, Round: round, Err: err}
			}

		case llm.FinishLength:
			return &CompletionError{FinishReason: resp.FinishReason, Round: round, Err: ErrLength}
		case llm.FinishContentFilter:
			return &CompletionError{FinishReason: resp.FinishReason, Round: round, Err: ErrContentFilter}
		default:
			return &CompletionError{FinishReason: resp.FinishReason, Round: round, Err: ErrUnknownFinish}
		}
	}
}

func (rt *Runtime) callModel(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	var resp *llm.Response
	err := rt.opts.Retry.Do(ctx, func(ctx context.Context) error {
		ctx, span := rt.opts.Tracer.Start(ctx, "llm.complete", attribute.Int("messages", len(messages)))
		defer span.End()

		start := time.Now()
		r, err := rt.provider.Complete(ctx, messages, tools)
		if err != nil {
			observability.RecordError(span, err)
			rt.opts.Metrics.ObserveModelCall("error", 0, 0, time.Since(start))
			slog.Warn("model call failed", "error", err)
			return err
		}
		span.SetAttributes(attribute.String("finish_reason", string(r.FinishReason)))
		rt.opts.Metrics.ObserveModelCall(string(r.FinishReason), r.Usage.InputTokens, r.Usage.OutputTokens, time.Since(start))
		resp = r
		return nil
	})
	return resp, err
}

// executeCalls runs one round of tool calls. Results keep request order
// whether the calls ran sequentially or in parallel.
func (rt *Runtime) executeCalls(ctx context.Context, calls []types.ToolCall, principal *types.Principal, allow AllowList) []ToolCallResult {
	results := make([]ToolCallResult, len(calls))
	if rt.opts.ToolConcurrency <= 1 || len(calls) == 1 {
		for i, call := range calls {
			results[i] = rt.invoke(ctx, call, principal, allow)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(rt.opts.ToolConcurrency)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = rt.invoke(ctx, call, principal, allow)
			return nil
		})
	}
	g.Wait()
	return results
}

func (rt *Runtime) invoke(ctx context.Context, call types.ToolCall, principal *types.Principal, allow AllowList) ToolCallResult {
	ctx, span := rt.opts.Tracer.Start(ctx, "tool."+call.Name,
		attribute.String("tool", call.Name),
		attribute.String("call_id", call.ID))
	defer span.End()

	start := time.Now()
	result := rt.invoker.Invoke(ctx, call, principal, allow)
	rt.opts.Metrics.ObserveToolCall(call.Name, string(result.Status), time.Since(start))
	span.SetAttributes(attribute.String("status", string(result.Status)))
	slog.Debug("tool call", "tool", call.Name, "call_id", call.ID, "status", result.Status)
	return result
}
