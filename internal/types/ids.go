// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type ConversationKey string
type ConversationID string
type MessageID string
type RunID string

func NewConversationID() ConversationID {
	return ConversationID(uuid.New().String())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

// NewToolCallID returns an id for tool calls synthesized locally, e.g. by
// providers that do not assign one.
func NewToolCallID() string {
	return "call_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

func NewConversationKey(parts ...string) ConversationKey {
	return ConversationKey(strings.Join(parts, ":"))
}
