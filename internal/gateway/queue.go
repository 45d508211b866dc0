package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/deskmate/internal/types"
)

const laneBuffer = 100

// FailureReply is sent when a run's processor returns an error.
const FailureReply = "Sorry, something went wrong processing your message."

var (
	ErrQueueFull    = errors.New("queue full")
	ErrQueueStopped = errors.New("queue stopped")
)

// Processor handles one run and must call run.OnComplete on success.
type Processor func(*Run) error

// Queue gives every user a FIFO lane so that one user's turns never
// interleave, while a global semaphore bounds turns running at once
// across all users.
type Queue struct {
	lanes     map[types.UserID]chan *Run
	semaphore *semaphore.Weighted
	processor Processor
	active    atomic.Int64
	queued    atomic.Int64
	onDepth   func(int)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Queue{
		lanes:     make(map[types.UserID]chan *Run),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels in-flight turns, closes all lanes and waits for the lane
// goroutines to exit.
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

// Enqueue adds run to its user's lane, creating the lane when the user
// has none.
func (q *Queue) Enqueue(run *Run) error {
	if q.ctx == nil || q.ctx.Err() != nil {
		return ErrQueueStopped
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	lane, exists := q.lanes[run.UserID]
	if !exists {
		lane = make(chan *Run, laneBuffer)
		q.lanes[run.UserID] = lane
		q.wg.Add(1)
		go q.processLane(run.UserID, lane)
	}

	select {
	case lane <- run:
		q.depthChanged(q.queued.Add(1))
		return nil
	default:
		return fmt.Errorf("%w for user %s", ErrQueueFull, run.UserID)
	}
}

func (q *Queue) processLane(userID types.UserID, lane chan *Run) {
	defer q.wg.Done()
	for {
		select {
		case run, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				q.depthChanged(q.queued.Add(-1))
				run.Status = RunStatusFailed
				run.Error = err
				run.complete(types.Reply{Text: FailureReply})
				return
			}
			q.execute(run)
			q.semaphore.Release(1)
			if q.retire(userID, lane) {
				return
			}
		case <-q.ctx.Done():
			return
		}
	}
}

// retire drops an empty lane so lanes only exist for users with runs
// waiting. Enqueue sends under q.mu, so nothing can slip into the lane
// between the length check and the delete.
func (q *Queue) retire(userID types.UserID, lane chan *Run) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(lane) > 0 || q.lanes[userID] != lane {
		return false
	}
	delete(q.lanes, userID)
	return true
}

// Lanes returns the number of users with a live lane.
func (q *Queue) Lanes() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.lanes)
}

func (q *Queue) execute(run *Run) {
	q.active.Add(1)
	defer q.active.Add(-1)
	q.depthChanged(q.queued.Add(-1))
	if q.processor == nil {
		return
	}

	run.Ctx = q.ctx
	run.Status = RunStatusRunning
	run.StartedAt = time.Now()
	err := q.processor(run)
	run.EndedAt = time.Now()
	if err != nil {
		run.Status = RunStatusFailed
		run.Error = err
		slog.Error("run failed", "run_id", string(run.ID), "user_id", string(run.UserID), "error", err)
		run.complete(types.Reply{Text: FailureReply})
		return
	}
	run.Status = RunStatusComplete
}

func (q *Queue) depthChanged(n int64) {
	if q.onDepth != nil {
		q.onDepth(int(n))
	}
}

// WaitIdle blocks until no runs are actively being processed, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 && q.queued.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// Depth returns the number of runs waiting in all lanes.
func (q *Queue) Depth() int {
	return int(q.queued.Load())
}

func (q *Queue) SetProcessor(fn Processor) {
	q.processor = fn
}

// OnDepth registers a callback for queue depth changes.
func (q *Queue) OnDepth(fn func(int)) {
	q.onDepth = fn
}
