package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrClosed is reported for sequences that never ran because the worker
// stopped.
var ErrClosed = errors.New("task queue closed")

// Sequence is an ordered list of tasks executed as one unit.
type Sequence struct {
	ID    uuid.UUID
	Tasks []Task
	// Done receives exactly one value: nil on success or the first error.
	// It is nil for detached submissions.
	Done chan error
}

func (s *Sequence) finish(err error) {
	if s.Done != nil {
		s.Done <- err
	}
}

// Pending is the submitter's handle on a queued sequence.
type Pending struct {
	ID   uuid.UUID
	done <-chan error
}

// Done exposes the single-use completion channel.
func (p *Pending) Done() <-chan error { return p.done }

// Wait blocks until the sequence finished or ctx is done.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Queue is an unbounded FIFO of sequences with a single consumer.
type Queue struct {
	mu     sync.Mutex
	items  []*Sequence
	notify chan struct{}
	closed bool
}

func New() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Submit enqueues tasks as one sequence. It never blocks.
func (q *Queue) Submit(tasks ...Task) *Pending {
	seq := &Sequence{ID: uuid.New(), Tasks: tasks, Done: make(chan error, 1)}
	q.push(seq)
	return &Pending{ID: seq.ID, done: seq.Done}
}

// SubmitDetached enqueues tasks without a completion channel.
func (q *Queue) SubmitDetached(tasks ...Task) uuid.UUID {
	seq := &Sequence{ID: uuid.New(), Tasks: tasks}
	q.push(seq)
	return seq.ID
}

// Barrier returns once every sequence submitted before it has finished.
func (q *Queue) Barrier(ctx context.Context) error {
	return q.Submit(NoOp{}).Wait(ctx)
}

// Len reports the number of sequences waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) push(seq *Sequence) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		seq.finish(ErrClosed)
		return
	}
	q.items = append(q.items, seq)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// next pops the oldest sequence, waiting for one when the queue is empty.
func (q *Queue) next(ctx context.Context) (*Sequence, bool) {
	for {
		if ctx.Err() != nil {
			return nil, false
		}
		q.mu.Lock()
		if len(q.items) > 0 {
			seq := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return seq, true
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, false
		case <-q.notify:
		}
	}
}

// close rejects future submissions and fails everything still queued.
func (q *Queue) close() {
	q.mu.Lock()
	q.closed = true
	items := q.items
	q.items = nil
	q.mu.Unlock()
	for _, seq := range items {
		seq.finish(ErrClosed)
	}
}
