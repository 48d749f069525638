// internal/types/models.go
package types

import (
	"errors"
	"fmt"
	"time"
)

// Role discriminates the Message variants.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by the model. Arguments hold the
// model-authored JSON text verbatim, which may be malformed.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry in a conversation. ToolCalls is only set on assistant
// messages and ToolCallID only on tool messages.
type Message struct {
	ID             MessageID      `json:"id"`
	ConversationID ConversationID `json:"conversation_id"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	TokenCount     int            `json:"token_count"`
	ToolCalls      []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID     string         `json:"tool_call_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

func newMessage(role Role, content string) Message {
	return Message{
		ID:        NewMessageID(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

func NewSystemMessage(content string) Message { return newMessage(RoleSystem, content) }

func NewUserMessage(content string) Message { return newMessage(RoleUser, content) }

// NewAssistantMessage builds a model message; calls may be empty for a final answer.
func NewAssistantMessage(content string, calls []ToolCall) Message {
	m := newMessage(RoleAssistant, content)
	m.ToolCalls = calls
	return m
}

// NewToolMessage builds a tool result message answering the given call.
func NewToolMessage(callID, content string) Message {
	m := newMessage(RoleTool, content)
	m.ToolCallID = callID
	return m
}

// Conversation is the ordered history of one chat.
type Conversation struct {
	ID        ConversationID  `json:"id"`
	Key       ConversationKey `json:"key"`
	Owner     string          `json:"owner"`
	Name      string          `json:"name,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Messages  []Message       `json:"messages,omitempty"`
}

// SystemOwner owns conversations started without a principal, such as
// scheduled tasks.
const SystemOwner = "system"

// ErrForeignConversation is returned when a principal addresses a
// conversation that another principal owns.
var ErrForeignConversation = errors.New("conversation belongs to another owner")

var (
	ErrMissingSystemMessage   = errors.New("conversation must start with a system message")
	ErrDuplicateSystemMessage = errors.New("conversation has more than one system message")
	ErrOrphanedToolResult     = errors.New("tool message does not answer a preceding tool call")
)

// Validate checks the structural invariants of the history: exactly one
// system message in first position, and every tool message answering a call
// emitted by an earlier assistant message.
func (c *Conversation) Validate() error {
	if len(c.Messages) == 0 || c.Messages[0].Role != RoleSystem {
		return ErrMissingSystemMessage
	}
	issued := make(map[string]bool)
	for i, m := range c.Messages[1:] {
		switch m.Role {
		case RoleSystem:
			return fmt.Errorf("message %d: %w", i+1, ErrDuplicateSystemMessage)
		case RoleAssistant:
			for _, tc := range m.ToolCalls {
				issued[tc.ID] = true
			}
		case RoleTool:
			if !issued[m.ToolCallID] {
				return fmt.Errorf("message %d (call %q): %w", i+1, m.ToolCallID, ErrOrphanedToolResult)
			}
		}
	}
	return nil
}

// System returns the conversation's system message.
func (c *Conversation) System() (Message, bool) {
	if len(c.Messages) == 0 || c.Messages[0].Role != RoleSystem {
		return Message{}, false
	}
	return c.Messages[0], true
}

// Principal is the acting user on whose behalf tools run. A nil *Principal
// means the completion is anonymous or system-initiated.
type Principal struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// InboundEvent is a user utterance arriving from a chat surface.
type InboundEvent struct {
	Source          string          `json:"source"`
	ConversationKey ConversationKey `json:"conversation_key"`
	Principal       *Principal      `json:"principal,omitempty"`
	Text            string          `json:"text"`
}
