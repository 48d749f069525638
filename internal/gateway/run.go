package gateway

import (
	"context"
	"time"

	"github.com/user/liftcoach/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run tracks a single completion of an inbound event against a conversation.
type Run struct {
	ID             types.RunID
	ConversationID types.ConversationID
	Event          *types.InboundEvent
	Status         RunStatus
	Attempts       int
	CreatedAt      time.Time
	StartedAt      *time.Time
	EndedAt        *time.Time
	Error          error
	Ctx            context.Context
	OnComplete     func(response string)
	OnError        func(err error)
}

// NewRun creates a Run in the Queued state for the given conversation and event.
func NewRun(conversationID types.ConversationID, event *types.InboundEvent) *Run {
	return &Run{
		ID:             types.NewRunID(),
		ConversationID: conversationID,
		Event:          event,
		Status:         RunStatusQueued,
		Attempts:       0,
		CreatedAt:      time.Now(),
	}
}
