// internal/state/task.go
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskExists   = errors.New("task already exists")
)

// Task is a named coaching prompt run on a cron schedule or via webhook.
// Tasks run without a principal, so only tools that do not require a
// signed-in user are useful to them.
type Task struct {
	Name            string    `json:"name"`
	Prompt          string    `json:"prompt"`
	Schedule        string    `json:"schedule,omitempty"`
	ConversationKey string    `json:"conversation_key"`
	Enabled         bool      `json:"enabled"`
	CreatedAt       time.Time `json:"created_at,omitzero"`
	LastRunAt       time.Time `json:"last_run_at,omitzero"`
}

// TaskStore is a JSON-file-backed store for tasks.
type TaskStore struct {
	path string
	mu   sync.RWMutex
}

// NewTaskStore creates a new file-backed TaskStore at the given file path.
func NewTaskStore(path string) *TaskStore {
	return &TaskStore{path: path}
}

// Path returns the file path used by this store.
func (s *TaskStore) Path() string {
	return s.path
}

// List returns all tasks. Returns an empty slice if the file doesn't exist.
func (s *TaskStore) List() ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks, err := s.load()
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		return []*Task{}, nil
	}
	return tasks, nil
}

// Get finds a task by name.
func (s *TaskStore) Get(name string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks, err := s.load()
	if err != nil {
		return nil, err
	}
	if i := indexOf(tasks, name); i >= 0 {
		return tasks[i], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
}

// Add stores a new task. Names are unique.
func (s *TaskStore) Add(task *Task) error {
	if task.Name == "" {
		return errors.New("task name is required")
	}
	if task.ConversationKey == "" {
		return fmt.Errorf("task %s: conversation key is required", task.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return err
	}
	if indexOf(tasks, task.Name) >= 0 {
		return fmt.Errorf("%w: %s", ErrTaskExists, task.Name)
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	return s.save(append(tasks, task))
}

// Remove deletes a task by name.
func (s *TaskStore) Remove(name string) error {
	return s.update(name, func(tasks []*Task, i int) []*Task {
		return append(tasks[:i], tasks[i+1:]...)
	})
}

// SetEnabled toggles the enabled flag for a task.
func (s *TaskStore) SetEnabled(name string, enabled bool) error {
	return s.update(name, func(tasks []*Task, i int) []*Task {
		tasks[i].Enabled = enabled
		return tasks
	})
}

// MarkRun records when a task last fired.
func (s *TaskStore) MarkRun(name string, at time.Time) error {
	return s.update(name, func(tasks []*Task, i int) []*Task {
		tasks[i].LastRunAt = at
		return tasks
	})
}

func (s *TaskStore) update(name string, fn func(tasks []*Task, i int) []*Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return err
	}
	i := indexOf(tasks, name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	return s.save(fn(tasks, i))
}

func indexOf(tasks []*Task, name string) int {
	for i, t := range tasks {
		if t.Name == name {
			return i
		}
	}
	return -1
}

// load returns nil if the file doesn't exist.
func (s *TaskStore) load() ([]*Task, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tasks file: %w", err)
	}

	var tasks []*Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("unmarshal tasks: %w", err)
	}
	return tasks, nil
}

func (s *TaskStore) save(tasks []*Task) error {
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("save tasks: %w", err)
	}
	return nil
}
