package infra

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// CommandQueue serializes session persistence writes per lane, where a
// lane is keyed by session id. Tasks enqueued under the same lane run one
// at a time and in FIFO order, so a session's memory snapshots never
// land out of order even though the orchestrator fires them off
// asynchronously from the hot path; tasks in different lanes run
// concurrently with each other.
type CommandQueue struct {
	mu    sync.Mutex
	lanes map[string]*laneState
}

type laneState struct {
	queue    []*queueEntry
	active   int
	draining bool
	cond     *sync.Cond
}

type queueEntry struct {
	task       func(context.Context) (any, error)
	ctx        context.Context
	result     chan taskResult
	enqueuedAt time.Time
}

type taskResult struct {
	value any
	err   error
}

// NewCommandQueue creates an empty multi-lane command queue.
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{
		lanes: make(map[string]*laneState),
	}
}

func (q *CommandQueue) getLane(name string) *laneState {
	if name == "" {
		name = "main"
	}

	lane, ok := q.lanes[name]
	if !ok {
		lane = &laneState{
			queue: make([]*queueEntry, 0),
		}
		lane.cond = sync.NewCond(&q.mu)
		q.lanes[name] = lane
	}
	return lane
}

// EnqueueAsyncInLane appends task to lane's queue and returns immediately,
// without waiting for it to run. The caller only needs the FIFO-per-lane
// ordering guarantee, not the result, so unlike a blocking enqueue this
// never hands the caller a channel to wait on. The append to the lane's
// queue happens synchronously (it only takes q's own mutex, never awaits
// I/O), so a caller holding some other lock of its own when it calls this
// may keep holding it across the call without risking a deadlock on slow
// work.
func (q *CommandQueue) EnqueueAsyncInLane(lane string, task func(context.Context) (any, error)) {
	entry := &queueEntry{
		task:       task,
		ctx:        context.Background(),
		result:     make(chan taskResult, 1),
		enqueuedAt: time.Now(),
	}

	q.mu.Lock()
	l := q.getLane(lane)
	l.queue = append(l.queue, entry)
	if !l.draining {
		l.draining = true
		go q.drainLane(l)
	}
	q.mu.Unlock()
}

func (q *CommandQueue) drainLane(l *laneState) {
	for {
		q.mu.Lock()

		for l.active >= 1 && len(l.queue) > 0 {
			l.cond.Wait()
		}

		if len(l.queue) == 0 {
			l.draining = false
			q.mu.Unlock()
			return
		}

		entry := l.queue[0]
		l.queue = l.queue[1:]
		l.active++
		q.mu.Unlock()

		go func(e *queueEntry) {
			var (
				value any
				err   error
			)
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("task panicked: %v\n%s", rec, debug.Stack())
				}

				q.mu.Lock()
				l.active--
				l.cond.Broadcast()
				q.mu.Unlock()

				e.result <- taskResult{value: value, err: err}
			}()

			if e.ctx.Err() != nil {
				err = e.ctx.Err()
				return
			}

			value, err = e.task(e.ctx)
		}(entry)
	}
}
