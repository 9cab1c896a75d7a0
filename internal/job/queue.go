package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragkb/internal/ai"
)

// Task is one EmbedDocument unit of work.
type Task struct {
	DocumentID string
	Force      bool
}

type Handler func(ctx context.Context, task Task) error

type taskState struct {
	force   bool
	running bool
	again   bool
}

// Queue dispatches embedding tasks to a fixed worker pool. Tasks are keyed by
// document id: a document queued twice runs once, and a document enqueued
// while running gets exactly one follow-up run on the same worker, so two
// workers never touch the same document.
type Queue struct {
	handler     Handler
	workers     int
	maxAttempts int
	retryDelay  time.Duration
	retryable   func(error) bool
	sleep       func(ctx context.Context, d time.Duration) error

	ch     chan string
	space  chan struct{}
	mu     sync.Mutex
	states map[string]*taskState
	closed bool
	wg     sync.WaitGroup
}

type QueueOption func(q *Queue)

func WithWorkers(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithMaxAttempts(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

func WithRetryDelay(d time.Duration) QueueOption {
	return func(q *Queue) {
		q.retryDelay = d
	}
}

func NewQueue(handler Handler, size int, opts ...QueueOption) *Queue {
	if size <= 0 {
		size = 1024
	}
	q := &Queue{
		handler:     handler,
		workers:     4,
		maxAttempts: 3,
		retryDelay:  2 * time.Second,
		retryable:   ai.IsRetryable,
		sleep:       sleepContext,
		ch:          make(chan string, size),
		space:       make(chan struct{}, 1),
		states:      make(map[string]*taskState),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx, i)
	}
}

// ErrQueueClosed is returned by EnqueueWait once Close has been called.
var ErrQueueClosed = errors.New("embed queue closed")

const waitPollInterval = 20 * time.Millisecond

type enqueueState int

const (
	enqueueAccepted enqueueState = iota
	enqueueFull
	enqueueClosed
)

// Enqueue reports false when the queue is closed or full.
func (q *Queue) Enqueue(documentID string, force bool) bool {
	if documentID == "" {
		return false
	}
	switch q.tryEnqueue(documentID, force) {
	case enqueueAccepted:
		return true
	case enqueueFull:
		logutil.GetLogger(context.Background()).Warn("embed queue full, task dropped", zap.String("doc_id", documentID))
	}
	return false
}

// EnqueueWait blocks until the task is accepted, ctx ends or the queue is closed.
func (q *Queue) EnqueueWait(ctx context.Context, documentID string, force bool) error {
	if documentID == "" {
		return nil
	}
	for {
		switch q.tryEnqueue(documentID, force) {
		case enqueueAccepted:
			return nil
		case enqueueClosed:
			return ErrQueueClosed
		}
		timer := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-q.space:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *Queue) tryEnqueue(documentID string, force bool) enqueueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return enqueueClosed
	}
	if st, ok := q.states[documentID]; ok {
		st.force = st.force || force
		if st.running {
			st.again = true
		}
		return enqueueAccepted
	}
	select {
	case q.ch <- documentID:
		q.states[documentID] = &taskState{force: force}
		return enqueueAccepted
	default:
		return enqueueFull
	}
}

// Pending counts documents queued or running.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.states)
}

// Close stops accepting tasks and waits for queued ones to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) work(ctx context.Context, worker int) {
	defer q.wg.Done()
	for id := range q.ch {
		select {
		case q.space <- struct{}{}:
		default:
		}
		q.mu.Lock()
		st := q.states[id]
		st.running = true
		force := st.force
		st.force = false
		q.mu.Unlock()

		for {
			q.run(ctx, worker, Task{DocumentID: id, Force: force})
			q.mu.Lock()
			if st.again && ctx.Err() == nil {
				st.again = false
				force = st.force
				st.force = false
				q.mu.Unlock()
				continue
			}
			delete(q.states, id)
			q.mu.Unlock()
			break
		}
	}
}

func (q *Queue) run(ctx context.Context, worker int, task Task) {
	logger := logutil.GetLogger(ctx).With(
		zap.Int("worker", worker),
		zap.String("doc_id", task.DocumentID),
		zap.Bool("force", task.Force),
	)
	for attempt := 1; attempt <= q.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}
		err := q.handler(ctx, task)
		if err == nil {
			return
		}
		if !q.retryable(err) || attempt == q.maxAttempts {
			logger.Error("embed task failed", zap.Int("attempt", attempt), zap.Error(err))
			return
		}
		logger.Warn("embed task failed, will retry", zap.Int("attempt", attempt), zap.Error(err))
		if err := q.sleep(ctx, ai.CalculateBackoff(q.retryDelay, attempt)); err != nil {
			return
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
