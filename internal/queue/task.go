package queue

import "context"

// Task is one step of a Sequence.
type Task interface {
	Name() string
	Execute(ctx context.Context) error
}

// NoOp does nothing. Submitting it and waiting for completion acts as a
// barrier behind every sequence queued before it.
type NoOp struct{}

func (NoOp) Name() string                  { return "noop" }
func (NoOp) Execute(context.Context) error { return nil }

type funcTask struct {
	name string
	fn   func(ctx context.Context) error
}

func (t funcTask) Name() string                      { return t.name }
func (t funcTask) Execute(ctx context.Context) error { return t.fn(ctx) }

// Func adapts a function into a Task.
func Func(name string, fn func(ctx context.Context) error) Task {
	return funcTask{name: name, fn: fn}
}
