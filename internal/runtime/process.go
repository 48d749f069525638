package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/user/liftcoach/internal/gateway"
	"github.com/user/liftcoach/internal/types"
)

// Processor executes gateway runs: it records the user's message, runs the
// completion loop over the stored conversation and persists what the loop
// produced.
type Processor struct {
	rt    *Runtime
	store types.ConversationStore
	allow AllowList
}

// NewProcessor creates a Processor. allow limits the tools offered on every
// run; nil offers the whole catalog.
func NewProcessor(rt *Runtime, store types.ConversationStore, allow AllowList) *Processor {
	return &Processor{rt: rt, store: store, allow: allow}
}

// ProcessRun is the gateway queue processor.
func (p *Processor) ProcessRun(run *gateway.Run) error {
	ctx := run.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if run.Event == nil {
		return errors.New("run has no inbound event")
	}
	log := slog.With("run_id", string(run.ID), "conversation_id", string(run.ConversationID))

	user := types.NewUserMessage(run.Event.Text)
	p.rt.engine.Stamp(&user)
	if err := p.store.Append(ctx, run.ConversationID, user); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}

	conv, err := p.store.Get(ctx, run.ConversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	outcome, err := p.rt.Complete(ctx, Request{
		Conversation: conv,
		Principal:    run.Event.Principal,
		Allow:        p.allow,
	})
	if len(outcome.Messages) > 0 {
		// use a fresh context so a cancelled run still keeps its history
		if perr := p.store.Append(context.WithoutCancel(ctx), run.ConversationID, outcome.Messages...); perr != nil {
			log.Error("persist completion messages", "error", perr)
			if err == nil {
				err = fmt.Errorf("persist messages: %w", perr)
			}
		}
	}
	if err != nil {
		return err
	}

	log.Info("run complete", "rounds", outcome.Rounds, "messages", len(outcome.Messages))
	if run.OnComplete != nil {
		run.OnComplete(outcome.Final.Content)
	}
	return nil
}
