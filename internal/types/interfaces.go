// internal/types/interfaces.go
package types

import "context"

// ConversationStore persists conversations and their message history.
// The system message is supplied at creation and can never be appended later.
type ConversationStore interface {
	ResolveOrCreate(ctx context.Context, key ConversationKey, owner string, system Message) (ConversationID, error)
	Get(ctx context.Context, id ConversationID) (*Conversation, error)
	List(ctx context.Context) ([]*Conversation, error)
	Append(ctx context.Context, id ConversationID, messages ...Message) error
	Delete(ctx context.Context, id ConversationID) error
}
