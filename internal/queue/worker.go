package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Worker is the single consumer of a Queue. Exactly one sequence runs at a
// time.
type Worker struct {
	queue    *Queue
	suppress *atomic.Bool
	busy     atomic.Bool
}

// NewWorker returns a worker draining q. suppress is set while a sequence
// runs so file watchers can ignore the worker's own writes; it may be nil.
func NewWorker(q *Queue, suppress *atomic.Bool) *Worker {
	if suppress == nil {
		suppress = &atomic.Bool{}
	}
	return &Worker{queue: q, suppress: suppress}
}

// Busy reports whether a sequence is executing.
func (w *Worker) Busy() bool { return w.busy.Load() }

// Run drains the queue until ctx is done. Sequences still queued at that
// point complete with ErrClosed.
func (w *Worker) Run(ctx context.Context) error {
	defer w.queue.close()
	for {
		seq, ok := w.queue.next(ctx)
		if !ok {
			return ctx.Err()
		}
		w.busy.Store(true)
		w.suppress.Store(true)
		err := w.execute(ctx, seq)
		w.suppress.Store(false)
		w.busy.Store(false)
		seq.finish(err)
	}
}

func (w *Worker) execute(ctx context.Context, seq *Sequence) error {
	start := time.Now()
	for i, task := range seq.Tasks {
		if err := runTask(ctx, task); err != nil {
			slog.Error("task sequence failed",
				slog.String("sequence", seq.ID.String()),
				slog.String("task", task.Name()),
				slog.Int("step", i),
				slog.Int("skipped", len(seq.Tasks)-i-1),
				slog.Any("error", err),
			)
			return err
		}
	}
	slog.Debug("task sequence finished",
		slog.String("sequence", seq.ID.String()),
		slog.Int("tasks", len(seq.Tasks)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Name(), r)
		}
	}()
	return task.Execute(ctx)
}
