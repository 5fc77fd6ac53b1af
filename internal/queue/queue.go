// Package queue implements the single-flight upstream queue of spec.md
// §4.4: a bounded FIFO channel that serializes upstream calls so no two
// requests ever interleave streams under one auth token.
//
// Grounded on the teacher's internal/background.PollingManager:
// "Responsibilities"/"Thread-safety" doc header style, a registry of
// context.CancelFunc guarded by a mutex, a single worker loop reading a
// channel, and a Shutdown that cancels everything and waits on a
// sync.WaitGroup with a timeout. The teacher runs N polling workers
// concurrently; this queue narrows that to exactly one, since the upstream
// itself is what requires serialization.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/logger"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/metrics"
)

// ErrQueueClosed is returned by Submit once Shutdown has been called.
var ErrQueueClosed = errors.New("queue: closed")

// Task is the unit of work a caller submits; it must honor ctx
// cancellation (spec.md §4.4 "cancellation of a running task aborts the
// upstream HTTP request" — the task itself is the upstream HTTP call, so
// this is the caller's responsibility to implement, not the queue's).
type Task func(ctx context.Context) error

type submission struct {
	id         string
	ctx        context.Context
	task       Task
	resultCh   chan error
	enqueuedAt time.Time
}

// Queue is the single-flight FIFO queue.
//
// Responsibilities:
//   - Serialize Task execution: only one Task runs at a time.
//   - Never run a queued Task whose context is canceled before the worker
//     reaches it: Submit returns ctx.Err() at once, while the submission
//     keeps its channel slot until the worker dequeues and discards it.
//   - Report current depth via metrics.QueueDepth.
//
// Thread-safety: Submit may be called concurrently from any number of
// goroutines.
type Queue struct {
	ch chan *submission

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool

	log *logger.Logger
}

// New returns a Queue with room for capacity submissions waiting to run.
// Submit blocks once the queue is full, applying backpressure to callers.
func New(capacity int, log *logger.Logger) *Queue {
	q := &Queue{
		ch:  make(chan *submission, capacity),
		log: log.WithComponent("queue"),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Submit enqueues task and blocks until it has run (or its context is
// canceled, whether still queued or mid-run). The returned error is
// task's return value, or ctx.Err() if canceled before task completed.
func (q *Queue) Submit(ctx context.Context, task Task) error {
	sub := &submission{
		id:         uuid.NewString(),
		ctx:        ctx,
		task:       task,
		resultCh:   make(chan error, 1),
		enqueuedAt: time.Now(),
	}

	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- sub:
		metrics.QueueDepth.Inc()
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-sub.resultCh:
		return err
	case <-ctx.Done():
		// The submission may already be running; the task itself is
		// responsible for returning promptly once ctx is canceled. Either
		// way Submit does not block past ctx's cancellation.
		return ctx.Err()
	}
}

// run is the single worker loop. It never exits except on Shutdown.
func (q *Queue) run() {
	defer q.wg.Done()
	for sub := range q.ch {
		metrics.QueueDepth.Dec()

		if sub.ctx.Err() != nil {
			// Canceled while queued: its slot is released without running
			// (spec.md §4.4).
			sub.resultCh <- sub.ctx.Err()
			continue
		}

		metrics.QueueWaitSeconds.Observe(time.Since(sub.enqueuedAt).Seconds())

		err := sub.task(sub.ctx)
		sub.resultCh <- err
	}
}

// Shutdown closes the queue to new submissions and waits for the worker to
// drain, up to timeout.
func (q *Queue) Shutdown(timeout time.Duration) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	close(q.ch)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.log.Info("queue drained")
		return nil
	case <-time.After(timeout):
		q.log.Warn("queue shutdown timed out, worker may still be running")
		return errors.New("queue: shutdown timeout")
	}
}
