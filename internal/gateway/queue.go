package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/liftcoach/internal/types"
)

// FailureReply is sent to the surface when a run fails and the caller did
// not ask for the error itself.
const FailureReply = "Sorry, something went wrong processing your message."

// Queue manages per-conversation lanes with a global concurrency semaphore.
// Each conversation gets its own FIFO channel (lane) so that runs within a
// conversation are processed sequentially, while the semaphore limits the
// total number of concurrent run processors across all conversations.
type Queue struct {
	lanes     map[types.ConversationID]chan *Run
	semaphore *semaphore.Weighted
	processor func(*Run) error
	active    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewQueue creates a Queue that allows up to maxConcurrent runs to execute
// simultaneously across all conversation lanes.
func NewQueue(maxConcurrent int64) *Queue {
	return &Queue{
		lanes:     make(map[types.ConversationID]chan *Run),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for in-flight
// processors to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	for id, lane := range q.lanes {
		close(lane)
		delete(q.lanes, id)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds a Run to the conversation's lane, creating the lane (and its
// goroutine) on first use. Returns an error if the lane's buffer is full.
func (q *Queue) Enqueue(run *Run) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	lane, exists := q.lanes[run.ConversationID]
	if !exists {
		lane = make(chan *Run, 100)
		q.lanes[run.ConversationID] = lane
		q.wg.Add(1)
		go q.processLane(run.ConversationID, lane)
	}

	select {
	case lane <- run:
		return nil
	default:
		return fmt.Errorf("queue full for conversation %s", run.ConversationID)
	}
}

// processLane drains a single conversation lane, acquiring a semaphore slot
// before running the processor synchronously.
func (q *Queue) processLane(conversationID types.ConversationID, lane chan *Run) {
	defer q.wg.Done()
	for {
		select {
		case run, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				return
			}
			q.mu.RLock()
			processor := q.processor
			q.mu.RUnlock()
			if processor != nil {
				q.active.Add(1)
				q.execute(processor, run)
				q.active.Add(-1)
			}
			q.semaphore.Release(1)
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *Queue) execute(processor func(*Run) error, run *Run) {
	started := time.Now()
	run.StartedAt = &started
	run.Status = RunStatusRunning
	run.Attempts++

	ctx, cancel := q.runContext(run.Ctx)
	defer cancel()
	run.Ctx = ctx

	var err error
	if err = ctx.Err(); err == nil {
		err = processor(run)
	} else {
		err = fmt.Errorf("run abandoned before start: %w", err)
	}

	ended := time.Now()
	run.EndedAt = &ended
	if err == nil {
		run.Status = RunStatusComplete
		return
	}
	run.Status = RunStatusFailed
	run.Error = err
	slog.Error("run failed", "run_id", string(run.ID), "conversation_id", string(run.ConversationID), "error", err)
	switch {
	case run.OnError != nil:
		run.OnError(err)
	case run.OnComplete != nil:
		run.OnComplete(FailureReply)
	}
}

// runContext derives the context a run executes under. It is done when the
// queue stops or, if the caller supplied one, when the caller's context is.
func (q *Queue) runContext(caller context.Context) (context.Context, context.CancelFunc) {
	if caller == nil {
		return context.WithCancel(q.ctx)
	}
	ctx, cancel := context.WithCancel(caller)
	stop := context.AfterFunc(q.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// WaitIdle blocks until no runs are actively being processed, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued Run.
func (q *Queue) SetProcessor(fn func(*Run) error) {
	q.mu.Lock()
	q.processor = fn
	q.mu.Unlock()
}
