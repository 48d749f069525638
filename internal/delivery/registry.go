// Package delivery routes unsolicited replies, such as scheduled task
// output, to the chat surface that owns a conversation key.
package delivery

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/user/liftcoach/internal/types"
)

// Handler delivers a message to the conversation identified by key.
type Handler func(key types.ConversationKey, message string) error

// Registry routes messages to the appropriate delivery handler based on
// conversation key prefix (e.g. "telegram:", "http:").
type Registry struct {
	mu       sync.RWMutex
	prefixes []string
	handlers map[string]Handler
}

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for conversation keys starting with prefix,
// replacing any handler already registered for it.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[prefix]; !ok {
		r.prefixes = append(r.prefixes, prefix)
		// longest prefix wins
		sort.Slice(r.prefixes, func(i, j int) bool { return len(r.prefixes[i]) > len(r.prefixes[j]) })
	}
	r.handlers[prefix] = handler
}

// Deliver finds the handler with the longest prefix matching key and calls
// it. Returns an error if no handler is registered for the key.
func (r *Registry) Deliver(key types.ConversationKey, message string) error {
	r.mu.RLock()
	var handler Handler
	for _, prefix := range r.prefixes {
		if strings.HasPrefix(string(key), prefix) {
			handler = r.handlers[prefix]
			break
		}
	}
	r.mu.RUnlock()

	if handler == nil {
		return fmt.Errorf("no delivery handler for conversation key: %s", key)
	}
	return handler(key, message)
}
