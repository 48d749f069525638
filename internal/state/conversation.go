// internal/state/conversation.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/user/liftcoach/internal/types"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrSystemAppend         = errors.New("system message can only be set when the conversation is created")
)

// ConversationStore is a file-backed conversation store. Conversation
// metadata lives in conversations/index.json and each conversation's
// history is an append-only conversations/<id>/messages.jsonl.
type ConversationStore struct {
	root string
	mu   sync.RWMutex
}

// NewConversationStore creates a store rooted at the given directory.
func NewConversationStore(root string) *ConversationStore {
	return &ConversationStore{root: root}
}

func (s *ConversationStore) indexPath() string {
	return filepath.Join(s.root, "conversations", "index.json")
}

func (s *ConversationStore) messagesPath(id types.ConversationID) string {
	return filepath.Join(s.root, "conversations", string(id), "messages.jsonl")
}

// loadIndex reads index.json and returns a map keyed by ConversationKey.
func (s *ConversationStore) loadIndex() (map[types.ConversationKey]*types.Conversation, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[types.ConversationKey]*types.Conversation), nil
		}
		return nil, fmt.Errorf("read conversation index: %w", err)
	}

	var convs []*types.Conversation
	if err := json.Unmarshal(data, &convs); err != nil {
		return nil, fmt.Errorf("unmarshal conversation index: %w", err)
	}
	index := make(map[types.ConversationKey]*types.Conversation, len(convs))
	for _, c := range convs {
		index[c.Key] = c
	}
	return index, nil
}

func (s *ConversationStore) saveIndex(index map[types.ConversationKey]*types.Conversation) error {
	convs := make([]*types.Conversation, 0, len(index))
	for _, c := range index {
		meta := *c
		meta.Messages = nil
		convs = append(convs, &meta)
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].CreatedAt.Before(convs[j].CreatedAt) })

	data, err := json.MarshalIndent(convs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal conversation index: %w", err)
	}
	if err := writeFileAtomic(s.indexPath(), data); err != nil {
		return fmt.Errorf("save conversation index: %w", err)
	}
	return nil
}

func mayJoin(existing, owner string) bool {
	return existing == owner || owner == types.SystemOwner || existing == types.SystemOwner
}

func findByID(index map[types.ConversationKey]*types.Conversation, id types.ConversationID) (*types.Conversation, bool) {
	for _, c := range index {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// ResolveOrCreate returns the conversation for key, creating it with the
// given system message if needed. An existing conversation keeps its
// original system message and owner; a different principal gets
// types.ErrForeignConversation. System events may address any conversation,
// and a principal may join one the system started.
func (s *ConversationStore) ResolveOrCreate(_ context.Context, key types.ConversationKey, owner string, system types.Message) (types.ConversationID, error) {
	if system.Role != types.RoleSystem {
		return "", fmt.Errorf("first message must be a system message, got %q", system.Role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return "", err
	}
	if existing, ok := index[key]; ok {
		if !mayJoin(existing.Owner, owner) {
			return "", fmt.Errorf("%w: %s", types.ErrForeignConversation, key)
		}
		return existing.ID, nil
	}

	now := time.Now()
	conv := &types.Conversation{
		ID:        types.NewConversationID(),
		Key:       key,
		Owner:     owner,
		Name:      string(key),
		CreatedAt: now,
		UpdatedAt: now,
	}
	system.ConversationID = conv.ID
	if err := s.appendLines(conv.ID, []types.Message{system}); err != nil {
		return "", err
	}

	index[key] = conv
	if err := s.saveIndex(index); err != nil {
		return "", err
	}
	return conv.ID, nil
}

// Get returns the conversation with its full history.
func (s *ConversationStore) Get(_ context.Context, id types.ConversationID) (*types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	meta, ok := findByID(index, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	msgs, err := s.readMessages(id)
	if err != nil {
		return nil, err
	}
	conv := *meta
	conv.Messages = msgs
	return &conv, nil
}

// List returns conversation metadata, oldest first, without histories.
func (s *ConversationStore) List(_ context.Context) ([]*types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	convs := make([]*types.Conversation, 0, len(index))
	for _, c := range index {
		convs = append(convs, c)
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].CreatedAt.Before(convs[j].CreatedAt) })
	return convs, nil
}

// Append adds messages to the end of the history. System messages are
// refused.
func (s *ConversationStore) Append(_ context.Context, id types.ConversationID, messages ...types.Message) error {
	for _, m := range messages {
		if m.Role == types.RoleSystem {
			return ErrSystemAppend
		}
	}
	if len(messages) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	meta, ok := findByID(index, id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}

	stamped := make([]types.Message, len(messages))
	for i, m := range messages {
		m.ConversationID = id
		stamped[i] = m
	}
	if err := s.appendLines(id, stamped); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now()
	return s.saveIndex(index)
}

// Delete removes a conversation and its history.
func (s *ConversationStore) Delete(_ context.Context, id types.ConversationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	meta, ok := findByID(index, id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	delete(index, meta.Key)
	if err := s.saveIndex(index); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Dir(s.messagesPath(id))); err != nil {
		return fmt.Errorf("remove conversation dir: %w", err)
	}
	return nil
}

// appendLines writes one JSON line per message. Caller must hold the lock.
func (s *ConversationStore) appendLines(id types.ConversationID, messages []types.Message) error {
	path := s.messagesPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create conversation dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open messages file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, m := range messages {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write messages: %w", err)
	}
	return nil
}

func (s *ConversationStore) readMessages(id types.ConversationID) ([]types.Message, error) {
	f, err := os.Open(s.messagesPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open messages file: %w", err)
	}
	defer f.Close()

	var msgs []types.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		var m types.Message
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan messages file: %w", err)
	}
	return msgs, nil
}
