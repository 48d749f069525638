// Package scheduler fires stored coaching tasks on their cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/liftcoach/internal/gateway"
	"github.com/user/liftcoach/internal/state"
	"github.com/user/liftcoach/internal/types"
)

// Handler is the callback invoked when a scheduled task fires. It receives a
// snapshot of the task taken when the schedule was loaded.
type Handler func(task state.Task)

// Scheduler evaluates cron expressions from the task store and fires tasks
// through a handler callback.
type Scheduler struct {
	store   *state.TaskStore
	handler Handler
	now     func() time.Time

	mu        sync.Mutex
	cron      *cron.Cron
	entries   map[string]cron.EntryID
	signature string
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule checks a cron expression without scheduling anything.
func ParseSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

// NextRun returns the first time after from that expr fires.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return sched.Next(from), nil
}

// New creates a new Scheduler backed by the given task store. The handler is
// called each time a scheduled task fires.
func New(store *state.TaskStore, handler Handler) *Scheduler {
	return &Scheduler{
		store:   store,
		handler: handler,
		now:     time.Now,
		cron:    cron.New(cron.WithParser(cronParser)),
	}
}

// Start loads tasks from the store, registers enabled tasks that have a
// schedule as cron entries, and starts the cron ticker. Tasks with invalid
// schedules are logged and skipped.
func (s *Scheduler) Start() error {
	tasks, err := s.store.List()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.signature = signature(tasks)
	s.entries = make(map[string]cron.EntryID)
	for _, task := range tasks {
		if task.Schedule == "" || !task.Enabled {
			continue
		}
		snapshot := *task
		id, err := s.cron.AddFunc(task.Schedule, func() { s.fire(snapshot) })
		if err != nil {
			slog.Error("invalid cron schedule", "name", task.Name, "schedule", task.Schedule, "error", err)
			continue
		}
		s.entries[task.Name] = id
		slog.Info("scheduled task", "name", task.Name, "schedule", task.Schedule)
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) fire(task state.Task) {
	slog.Info("cron firing task", "name", task.Name, "conversation_key", task.ConversationKey)
	s.handler(task)
	if err := s.store.MarkRun(task.Name, s.now()); err != nil {
		slog.Warn("mark task run failed", "name", task.Name, "error", err)
	}
}

// Scheduled returns the names of tasks with an active cron entry.
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Next returns when the named task fires next.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Reload stops the existing cron, creates a new one, and calls Start() again.
func (s *Scheduler) Reload() error {
	s.mu.Lock()
	s.cron.Stop()
	s.cron = cron.New(cron.WithParser(cronParser))
	s.mu.Unlock()
	return s.Start()
}

// ReloadIfChanged reloads only when a task's name, schedule or enabled flag
// differs from what is loaded. Run bookkeeping such as LastRunAt does not
// count as a change.
func (s *Scheduler) ReloadIfChanged() (bool, error) {
	tasks, err := s.store.List()
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	same := s.signature == signature(tasks)
	s.mu.Unlock()
	if same {
		return false, nil
	}
	return true, s.Reload()
}

func signature(tasks []*state.Task) string {
	var b strings.Builder
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s\x00%s\x00%s\x00%s\x00%t\n", t.Name, t.Schedule, t.Prompt, t.ConversationKey, t.Enabled)
	}
	return b.String()
}

// Stop stops the cron ticker and waits for running tasks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	<-c.Stop().Done()
}

// Inbound accepts events for processing; *gateway.Gateway implements it.
type Inbound interface {
	HandleInbound(ctx context.Context, event *types.InboundEvent, opts ...gateway.RunOption) error
}

// Deliverer routes a reply to the surface that owns a conversation key.
type Deliverer interface {
	Deliver(key types.ConversationKey, message string) error
}

// Dispatch returns a Handler that runs each task as a system event on its
// conversation and delivers the final reply. Tasks carry no principal.
func Dispatch(ctx context.Context, in Inbound, out Deliverer) Handler {
	return func(task state.Task) {
		key := types.ConversationKey(task.ConversationKey)
		event := &types.InboundEvent{
			Source:          "cron",
			ConversationKey: key,
			Text:            task.Prompt,
		}
		err := in.HandleInbound(ctx, event,
			gateway.WithOnComplete(func(reply string) {
				if err := out.Deliver(key, reply); err != nil {
					slog.Warn("task reply not delivered", "name", task.Name, "conversation_key", key, "error", err)
				}
			}),
			gateway.WithOnError(func(err error) {
				slog.Error("scheduled task failed", "name", task.Name, "error", err)
			}),
		)
		if err != nil {
			slog.Error("enqueue scheduled task failed", "name", task.Name, "error", err)
		}
	}
}
