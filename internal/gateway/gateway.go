package gateway

import (
	"context"
	"fmt"

	"github.com/user/liftcoach/internal/types"
)

// SystemOwner owns conversations started without a principal.
const SystemOwner = types.SystemOwner

// SystemPrompter renders the system message for a new conversation.
type SystemPrompter func(owner string) (types.Message, error)

// Gateway orchestrates inbound events into runs. It resolves (or creates)
// conversations, wraps each event in a Run, and enqueues the run for
// processing.
type Gateway struct {
	store  types.ConversationStore
	prompt SystemPrompter
	Queue  *Queue

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Gateway wired to the conversation store with the given
// concurrency limit for simultaneous run processing.
func New(store types.ConversationStore, prompt SystemPrompter, maxConcurrent ...int64) *Gateway {
	var concurrency int64 = 2
	if len(maxConcurrent) > 0 && maxConcurrent[0] > 0 {
		concurrency = maxConcurrent[0]
	}
	return &Gateway{
		store:  store,
		prompt: prompt,
		Queue:  NewQueue(concurrency),
	}
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels the gateway context and stops the queue, waiting for
// outstanding runs.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
}

// RunOption configures optional behavior on a Run.
type RunOption func(*Run)

// WithContext ties the run to ctx as well as the queue: cancelling either
// aborts the run.
func WithContext(ctx context.Context) RunOption {
	return func(r *Run) { r.Ctx = ctx }
}

// WithOnComplete sets a callback invoked when the run produces a final response.
func WithOnComplete(fn func(string)) RunOption {
	return func(r *Run) { r.OnComplete = fn }
}

// WithOnError sets a callback invoked instead of the failure reply when the
// run fails.
func WithOnError(fn func(error)) RunOption {
	return func(r *Run) { r.OnError = fn }
}

// Owner is the conversation owner for an event.
func Owner(event *types.InboundEvent) string {
	if event.Principal != nil {
		return event.Principal.ID
	}
	return SystemOwner
}

// HandleInbound resolves or creates a conversation for the event, wraps it
// in a Run, and enqueues it for processing.
func (g *Gateway) HandleInbound(ctx context.Context, event *types.InboundEvent, opts ...RunOption) error {
	owner := Owner(event)
	system, err := g.prompt(owner)
	if err != nil {
		return fmt.Errorf("render system prompt: %w", err)
	}
	conversationID, err := g.store.ResolveOrCreate(ctx, event.ConversationKey, owner, system)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}
	run := NewRun(conversationID, event)
	for _, opt := range opts {
		opt(run)
	}
	return g.Queue.Enqueue(run)
}

// Ask enqueues the event and waits for its final reply. The run is cancelled
// when ctx is, even if it is still waiting in its lane.
func (g *Gateway) Ask(ctx context.Context, event *types.InboundEvent) (string, error) {
	type outcome struct {
		reply string
		err   error
	}
	done := make(chan outcome, 1)
	err := g.HandleInbound(ctx, event,
		WithContext(ctx),
		WithOnComplete(func(reply string) { done <- outcome{reply: reply} }),
		WithOnError(func(err error) { done <- outcome{err: err} }),
	)
	if err != nil {
		return "", err
	}
	select {
	case o := <-done:
		return o.reply, o.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
